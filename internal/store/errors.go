package store

import "errors"

var (
	ErrLocationNotFound    = errors.New("location not found")
	ErrRequestNotFound     = errors.New("request not found")
	ErrQueueEmpty          = errors.New("no token waiting to be served")
	ErrConcurrencyConflict = errors.New("counter changed concurrently")
	ErrRetriesExhausted    = errors.New("gave up after repeated counter conflicts")
)
