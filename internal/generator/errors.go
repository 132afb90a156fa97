package generator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure.
type ErrorKind int

const (
	// KindPermanent marks failures that will not succeed on retry, such as
	// rejected prompts or invalid credentials.
	KindPermanent ErrorKind = iota
	// KindTransient marks failures worth retrying, such as timeouts or 5xx
	// responses.
	KindTransient
	// KindThrottled marks rate-limit rejections from the provider itself.
	KindThrottled
)

func (k ErrorKind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// ProviderError is a classified failure from a generation backend.
type ProviderError struct {
	Provider   Provider
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider: %s (http %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from an error chain. Unclassified errors
// are treated as permanent.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindPermanent
}

// RetryAfterOf extracts a provider-advertised retry delay, or zero.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
