package provider

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned before any request when no key is configured.
var ErrMissingAPIKey = errors.New("provider API key is not set")

// ProviderError is a failed upstream call: a transport failure, a timeout,
// a non-2xx status, or an error payload inside the stream.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("provider error (HTTP %d): %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("provider request failed: %v", e.Err)
	}
	return "provider error: " + e.Message
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
