package config

import (
	"errors"
	"strings"
)

// ConfigurationError reports required settings that are missing or
// unparsable. It is raised before any network call and is the only error
// that ends the process with a non-zero status.
type ConfigurationError struct {
	Problems []string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err with a single problem description.
func NewConfigurationError(problem string, err error) *ConfigurationError {
	return &ConfigurationError{Problems: []string{problem}, Err: err}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
