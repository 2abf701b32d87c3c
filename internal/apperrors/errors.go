package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failed analysis.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindDecode              Kind = "decode_error"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindInvalidFormat       Kind = "invalid_format"
	KindRateLimited         Kind = "rate_limited"
	KindProviderTimeout     Kind = "provider_timeout"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderError       Kind = "provider_error"
	KindMalformedAnalysis   Kind = "malformed_analysis"
	KindCanceled            Kind = "canceled"
	KindInternal            Kind = "internal"
)

// StatusClientClosedRequest is the de facto status for a client that went away mid-request.
const StatusClientClosedRequest = 499

var statusByKind = map[Kind]int{
	KindInvalidRequest:      http.StatusBadRequest,
	KindDecode:              http.StatusBadRequest,
	KindInvalidFormat:       http.StatusBadRequest,
	KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	KindRateLimited:         http.StatusTooManyRequests,
	KindProviderTimeout:     http.StatusGatewayTimeout,
	KindProviderUnavailable: http.StatusBadGateway,
	KindProviderError:       http.StatusBadGateway,
	KindMalformedAnalysis:   http.StatusBadGateway,
	KindCanceled:            StatusClientClosedRequest,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the single tagged failure returned across the analysis pipeline.
type Error struct {
	Kind     Kind
	Message  string
	Provider string
	// Status and Body are set for KindProviderError only.
	Status int
	Body   string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindProviderError && e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status the kind is surfaced as.
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidRequest(message string) *Error {
	return New(KindInvalidRequest, message, nil)
}

func Decode(cause error) *Error {
	return New(KindDecode, "image could not be decoded", cause)
}

func PayloadTooLarge(message string) *Error {
	return New(KindPayloadTooLarge, message, nil)
}

func InvalidFormat(format string) *Error {
	return New(KindInvalidFormat, fmt.Sprintf("unsupported output format %q", format), nil)
}

func RateLimited(provider string, cause error) *Error {
	err := New(KindRateLimited, fmt.Sprintf("rate limit exceeded for provider %q", provider), cause)
	err.Provider = provider
	return err
}

func ProviderTimeout(provider string, cause error) *Error {
	err := New(KindProviderTimeout, fmt.Sprintf("provider %q timed out", provider), cause)
	err.Provider = provider
	return err
}

func ProviderUnavailable(provider string, cause error) *Error {
	err := New(KindProviderUnavailable, fmt.Sprintf("provider %q is unavailable", provider), cause)
	err.Provider = provider
	return err
}

// ProviderError reports an explicit non-2xx rejection from a backend.
func ProviderError(provider string, status int, body string) *Error {
	return &Error{
		Kind:     KindProviderError,
		Message:  fmt.Sprintf("provider %q rejected the request", provider),
		Provider: provider,
		Status:   status,
		Body:     body,
	}
}

func MalformedAnalysis(provider, message string, cause error) *Error {
	err := New(KindMalformedAnalysis, message, cause)
	err.Provider = provider
	return err
}

func Canceled(cause error) *Error {
	return New(KindCanceled, "request was canceled", cause)
}

func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// StatusCode extracts the HTTP status code from an error.
func StatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// Retryable reports whether err is a transient infrastructure failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderTimeout, KindProviderUnavailable:
		return true
	default:
		return false
	}
}
