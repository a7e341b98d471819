// Package core defines sentinel errors.
package core

import "errors"

var (
	// Queue errors
	ErrQueueClosed = errors.New("udpin: queue closed")

	// Session errors
	ErrInvalidState      = errors.New("udpin: invalid session state")
	ErrSessionNotRunning = errors.New("udpin: session not running")
	ErrAllocationFailed  = errors.New("udpin: packet allocation failed")
	ErrUnsupportedQuery  = errors.New("udpin: unsupported control query")

	// Endpoint errors
	ErrEndpointSyntax = errors.New("udpin: invalid endpoint")

	// Sink errors
	ErrSinkNotFound = errors.New("udpin: sink not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("udpin: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("udpin: daemon not running")
)
