package config

import "errors"

// Configuration errors. They are fatal before any stage runs.
var (
	// ErrMissingField is returned when a required setting is absent
	ErrMissingField = errors.New("missing required field")

	// ErrNotFound is returned when a referenced file or directory does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when a setting is present but unusable
	ErrInvalid = errors.New("invalid configuration")
)
