package config

import "errors"

// ErrMissing marks a required value that is empty after file + environment loading.
var ErrMissing = errors.New("required value is missing")

// ConfigError reports missing or unusable configuration (including key material).
// It is fatal at startup and never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "invalid"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field == "" {
		return "config: " + msg
	}
	return "config: " + e.Field + ": " + msg
}

func (e *ConfigError) Unwrap() error { return e.Err }
