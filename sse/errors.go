package sse

import "errors"

// Sentinel errors for stream decoding.
var (
	ErrNoBody          = errors.New("sse: no response body")
	ErrMalformedRecord = errors.New("sse: malformed record payload")
	ErrRead            = errors.New("sse: stream read failed")
)
