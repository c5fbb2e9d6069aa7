package simulate

import "errors"

// Sentinel kinds for simulation errors.
var (
	ErrInvalidConfig    = errors.New("invalid simulation config")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInconsistent     = errors.New("ledger inconsistent")
)
