package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by every gateway
var (
	ErrAuth      = errors.New("authentication failed")
	ErrRateLimit = errors.New("rate limit exceeded")
	ErrTransient = errors.New("transient network error")
)

// ErrorKind classifies a provider failure
type ErrorKind string

// Error kinds reported per provider
const (
	KindAuth      ErrorKind = "AuthError"
	KindRateLimit ErrorKind = "RateLimitError"
	KindTransient ErrorKind = "TransientNetworkError"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindRateLimit:
		return ErrRateLimit
	default:
		return ErrTransient
	}
}

// Error is a classified failure of one provider call
type Error struct {
	Provider ProviderType
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel matching the error kind
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Classify wraps err as a provider Error. Errors that are not recognisably
// auth or rate-limit failures are reported as transient.
func Classify(p ProviderType, err error) *Error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	kind := KindTransient
	switch {
	case errors.Is(err, ErrAuth):
		kind = KindAuth
	case errors.Is(err, ErrRateLimit):
		kind = KindRateLimit
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTransient
	}

	return &Error{Provider: p, Kind: kind, Err: err}
}

// StatusError maps an HTTP status code onto the matching sentinel
func StatusError(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests:
		return ErrRateLimit
	default:
		return ErrTransient
	}
}
