// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/okian/kicker/internal/domain/rating"
)

// MaxNameLength bounds a player name in runes.
const MaxNameLength = 64

// Player is a registered participant and their current rating.
type Player struct {
	ID        int64
	Name      string // display casing as registered
	Rating    rating.Rating
	Matches   int // recorded matches the player took part in
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CleanName trims surrounding whitespace and validates the result.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: name is empty", rating.ErrInvalidInput)
	case !utf8.ValidString(name):
		return "", fmt.Errorf("%w: name is not valid utf-8", rating.ErrInvalidInput)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "", fmt.Errorf("%w: name longer than %d characters", rating.ErrInvalidInput, MaxNameLength)
	}
	return name, nil
}

// NameKey is the case-insensitive identity of a name. Stores index players
// by it.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
