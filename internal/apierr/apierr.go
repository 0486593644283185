// Package apierr defines the error taxonomy shared by every control plane
// component and the HTTP helper that renders it on the wire.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the taxonomy buckets that the HTTP
// layer and the queue/lifecycle retry policies branch on.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUpstreamHTTP    Kind = "upstream_http"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindUpstreamNetwork Kind = "upstream_network"
	KindProviderFailure Kind = "provider_failure"
	KindInternal        Kind = "internal"
)

// Error is the typed error carried through the core. Details is an optional
// structured payload rendered verbatim in the HTTP error body.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// HTTPStatus maps a Kind to the status code it is surfaced as.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamHTTP, KindUpstreamTimeout, KindUpstreamNetwork, KindProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the queue manager should route this failure to
// markRetryOrFailed rather than treating it as a hard failure.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUpstreamHTTP, KindUpstreamTimeout, KindUpstreamNetwork, KindProviderFailure:
		return true
	default:
		return false
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: err}
}

func WithDetails(kind Kind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Validation(message string) *Error   { return New(KindValidation, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func Internal(err error) *Error          { return Wrap(KindInternal, "internal error", err) }
func ProviderFailure(message string) *Error {
	return New(KindProviderFailure, message)
}

// UpstreamHTTPDetails is the structured payload carried by KindUpstreamHTTP
// errors, per the spec's {status, body, attempt, path} shape.
type UpstreamHTTPDetails struct {
	Status  int    `json:"status"`
	Body    string `json:"body"`
	Attempt int    `json:"attempt"`
	Path    string `json:"path"`
}

func UpstreamHTTP(path string, status int, body string, attempt int) *Error {
	return WithDetails(KindUpstreamHTTP, fmt.Sprintf("upstream %s returned %d", path, status), UpstreamHTTPDetails{
		Status:  status,
		Body:    body,
		Attempt: attempt,
		Path:    path,
	})
}

func UpstreamTimeout(path string, attempt int) *Error {
	return WithDetails(KindUpstreamTimeout, fmt.Sprintf("upstream %s timed out", path), UpstreamHTTPDetails{Path: path, Attempt: attempt})
}

func UpstreamNetwork(path string, attempt int, err error) *Error {
	e := Wrap(KindUpstreamNetwork, fmt.Sprintf("upstream %s unreachable", path), err)
	e.Details = UpstreamHTTPDetails{Path: path, Attempt: attempt}
	return e
}

// As extracts an *Error from err, converting unknown errors into KindInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// body is the wire shape of every HTTP error response.
type body struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// WriteError renders err as the standard {error, details?} JSON body with the
// status code implied by its Kind.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body{Error: apiErr.Message, Details: apiErr.Details})
}
