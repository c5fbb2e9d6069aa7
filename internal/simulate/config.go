// Package simulate drives a running kicker server with random players and
// matches and checks that the ledger it ends up with is consistent.
package simulate

import (
	"fmt"
	"strings"
	"time"
)

// Default run parameters.
const (
	DefaultBaseURL  = "http://localhost:9080"
	DefaultPlayers  = 12
	DefaultMatches  = 200
	DefaultWorkers  = 8
	DefaultReplays  = 0.1
	DefaultDrawRate = 0.05
	DefaultTimeout  = 10 * time.Second
	DefaultTop      = 10
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Token    string        // Bearer token for mutating routes, if the server wants one
	Players  int           // Number of players to register
	Matches  int           // Number of matches to submit
	Workers  int           // Number of concurrent submitters
	Replays  float64       // Fraction of submissions sent a second time
	DrawRate float64       // Probability that a simulated match is a draw
	Timeout  time.Duration // HTTP request timeout
	Seed     uint64        // Seed for the match generator; zero picks one
	Top      int           // Number of standings to report
	Verbose  bool          // Log every submission
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return fmt.Errorf("%w: url must not be empty", ErrInvalidConfig)
	case c.Players < 4:
		return fmt.Errorf("%w: need at least 4 players, got %d", ErrInvalidConfig, c.Players)
	case c.Matches < 0:
		return fmt.Errorf("%w: matches must not be negative", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Replays < 0 || c.Replays > 1:
		return fmt.Errorf("%w: replays must be within [0, 1]", ErrInvalidConfig)
	case c.DrawRate < 0 || c.DrawRate >= 1:
		return fmt.Errorf("%w: draw rate must be within [0, 1)", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	PlayersRegistered int
	MatchesPlanned    int
	MatchesRecorded   int
	Replays           int
	ReplaysMatched    int
	SubmitFailed      int
	LedgerEntries     int
	// Agreement is the fraction of player pairs whose final conservative
	// ratings are ordered like their hidden skills.
	Agreement float64
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
