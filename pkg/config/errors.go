package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the named configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidINI indicates the file could not be parsed as INI.
	ErrInvalidINI = errors.New("invalid INI syntax")

	// ErrSectionMissing indicates the requested role's section is absent.
	ErrSectionMissing = errors.New("configuration section missing")

	// ErrMissingRequiredField indicates a required key was left empty.
	ErrMissingRequiredField = errors.New("missing required configuration key")

	// ErrInvalidValue indicates a key holds a value that fails validation.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// ValidationError wraps a single failed key with enough context to point
// a user at the exact line to fix.
type ValidationError struct {
	Section string
	Key     string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Section, e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(section, key string, err error) *ValidationError {
	return &ValidationError{Section: section, Key: key, Err: err}
}

// LoadError wraps a failure to read or parse the configuration file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func newLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
