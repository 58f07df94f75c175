package works

import (
	"fmt"

	"worksrelay/internal/config"
)

// ConfigError is returned when key material or required settings are unusable.
type ConfigError = config.ConfigError

// AuthError means the assertion could not be signed or the authorization
// server rejected the exchange. Status is 0 when no response was received.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string { return formatRemote("works auth failed", e.Status, e.Body, e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// DeliveryError means the messaging endpoint rejected the message (or could not be reached).
type DeliveryError struct {
	Status int
	Body   string
	Err    error
}

func (e *DeliveryError) Error() string {
	return formatRemote("works delivery failed", e.Status, e.Body, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func formatRemote(prefix string, status int, body string, err error) string {
	switch {
	case status != 0 && err != nil:
		return fmt.Sprintf("%s: status %d: %s: %v", prefix, status, body, err)
	case status != 0:
		return fmt.Sprintf("%s: status %d: %s", prefix, status, body)
	case err != nil:
		return prefix + ": " + err.Error()
	default:
		return prefix
	}
}
