package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted = errors.New("service not started")
	// ErrStopped is returned by Start once Stop has closed the store.
	ErrStopped = errors.New("service stopped")
	// ErrInFlight is returned for a submission id that another request is
	// still recording.
	ErrInFlight = errors.New("submission in flight")
)
