package repository

import (
	"errors"
	"fmt"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
)

// ErrUnknownDriver is returned for an unsupported store driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// domainErrors pass through Classify unchanged.
var domainErrors = []error{
	model.ErrNotFound,
	model.ErrDuplicateName,
	model.ErrAmbiguousMatch,
	model.ErrStoreUnavailable,
	model.ErrConflict,
	model.ErrDuplicateSubmission,
	rating.ErrInvalidInput,
	rating.ErrInvalidOutcome,
}

// IsDomain reports whether err carries one of the store or engine kinds.
func IsDomain(err error) bool {
	for _, kind := range domainErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Classify maps a backend failure onto the store error kinds. Domain errors
// pass through; everything else, context expiry included, becomes
// model.ErrStoreUnavailable annotated with backend and op.
func Classify(backend, op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %w", backend, op, model.ErrStoreUnavailable, err)
}
