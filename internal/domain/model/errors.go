package model

import "errors"

// Sentinel kinds for player store and match ledger errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateName       = errors.New("duplicate player name")
	ErrAmbiguousMatch      = errors.New("ambiguous player name")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConflict            = errors.New("rating changed concurrently")
	ErrDuplicateSubmission = errors.New("submission already recorded")
)
