package repository

import "errors"

// Sentinel kinds for signal store errors.
var (
	ErrSignalNotFound = errors.New("signal not found")
	ErrInvalidSignal  = errors.New("invalid signal")
	ErrStoreClosed    = errors.New("signal store closed")
)
