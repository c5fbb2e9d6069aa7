package rating

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidOutcome = errors.New("invalid outcome")
)
