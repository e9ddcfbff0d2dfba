package domain

import "errors"

var (
	// ErrConfiguration marks a missing or malformed model bundle or service configuration.
	// It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrSchemaMismatch marks a feature vector that lacks a column the model bundle requires.
	// It signals version skew between the feature builder and the bundle.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvalidInput marks an application field outside its domain.
	ErrInvalidInput = errors.New("invalid input")
)
