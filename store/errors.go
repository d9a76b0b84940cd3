package store

import "errors"

// Sentinel errors for snapshot operations.
var (
	ErrLoadFailed = errors.New("store: load failed")
	ErrSaveFailed = errors.New("store: save failed")
)
