package integrations

import (
	"errors"
	"fmt"
)

// AuthenticationError means the platform rejected our credentials or the
// token could not be renewed.
type AuthenticationError struct {
	Platform string
	Reason   string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Platform, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// APIRequestError is a non-2xx response from a platform.
type APIRequestError struct {
	Platform   string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIRequestError) Error() string {
	return fmt.Sprintf("%s: %s %s: HTTP %d: %s", e.Platform, e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIRequestError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

type InvalidPriceError struct {
	Value any
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price: %v", e.Value)
}

// InvalidPricingError is a bill whose total does not match its parts.
type InvalidPricingError struct {
	Total    float64
	Expected float64
}

func (e *InvalidPricingError) Error() string {
	return fmt.Sprintf("bill total %.2f does not match computed %.2f", e.Total, e.Expected)
}

type InvalidPhoneError struct {
	Value string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone number: %q", e.Value)
}

// ErrSignatureMismatch is returned for webhook payloads whose signature does
// not verify. Such payloads must never be processed.
var ErrSignatureMismatch = errors.New("webhook signature mismatch")

type SignatureMismatchError struct {
	Platform string
}

func (e *SignatureMismatchError) Error() string {
	return e.Platform + ": " + ErrSignatureMismatch.Error()
}

func (e *SignatureMismatchError) Is(target error) bool { return target == ErrSignatureMismatch }

// retryable reports whether RetryWithBackoff should try again after err.
// Data-shape and credential failures are never retried.
func retryable(err error) bool {
	var (
		apiErr   *APIRequestError
		authErr  *AuthenticationError
		priceErr *InvalidPriceError
		billErr  *InvalidPricingError
		phoneErr *InvalidPhoneError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &apiErr):
		return apiErr.Temporary()
	case errors.As(err, &authErr), errors.As(err, &priceErr), errors.As(err, &billErr), errors.As(err, &phoneErr):
		return false
	case errors.Is(err, ErrSignatureMismatch):
		return false
	}
	return true
}
