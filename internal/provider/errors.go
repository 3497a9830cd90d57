package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind is the stable classification of a pipeline failure. The set is closed;
// every failure the pipeline can produce maps to exactly one of these.
type Kind string

const (
	KindContentPolicyViolation Kind = "content-policy-violation"
	KindUpstreamAuthFailure    Kind = "upstream-auth-failure"
	KindUpstreamConfigMissing  Kind = "upstream-config-missing"
	KindUpstreamClientError    Kind = "upstream-client-error"
	KindUpstreamUnavailable    Kind = "upstream-unavailable"
	KindInsufficientPermission Kind = "insufficient-permission"
	KindUnparseableResponse    Kind = "unparseable-response"
)

// Error carries the classified kind plus whatever upstream diagnostics were
// available. Credits and Required are populated for permission rejections so
// the client can render an actionable top-up prompt.
type Error struct {
	Kind      Kind
	Message   string
	Status    int    // upstream HTTP status, 0 when no response was received
	Code      string // upstream error code, if any
	RequestID string
	Raw       string // truncated upstream body or offending content

	Credits  int
	Required int

	// RetryAfter is the upstream-requested pause on rate limiting.
	RetryAfter time.Duration

	err error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status=%d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Retryable reports whether an internal retry loop may re-attempt the call.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstreamUnavailable
}

// HTTPStatus maps the kind to the status the inbound caller receives.
// Other client errors pass the upstream status through.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindContentPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindUpstreamAuthFailure:
		return http.StatusUnauthorized
	case KindUpstreamConfigMissing:
		return http.StatusBadRequest
	case KindUpstreamClientError:
		if e.Status >= 400 && e.Status < 500 {
			return e.Status
		}
		return http.StatusBadRequest
	case KindInsufficientPermission:
		return http.StatusForbidden
	case KindUnparseableResponse, KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsError unwraps err into a classified *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// sensitiveContentCode is the doubao moderation rejection code.
const sensitiveContentCode = "OutputImageSensitiveContentDetected"

// classifyStatus turns an upstream HTTP failure into a stable error kind.
func classifyStatus(status int, code, message, requestID string, raw []byte) *Error {
	e := &Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Raw:       truncateBody(raw),
	}
	switch {
	case code == sensitiveContentCode:
		e.Kind = KindContentPolicyViolation
		e.Message = "generation rejected by the content safety policy; rephrase the prompt, avoid sensitive terms, or reduce detail"
		if requestID != "" {
			e.Message += " (request id: " + requestID + ")"
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindUpstreamAuthFailure
		e.Message = "upstream rejected our credentials; check the provider API key"
	case status == http.StatusTooManyRequests:
		e.Kind = KindUpstreamUnavailable
		if e.Message == "" {
			e.Message = "upstream rate limit exceeded"
		}
	case status >= 400 && status < 500:
		e.Kind = KindUpstreamClientError
		if e.Message == "" {
			e.Message = "upstream rejected the request"
		}
	default:
		e.Kind = KindUpstreamUnavailable
		if e.Message == "" {
			e.Message = "upstream service unavailable"
		}
	}
	return e
}

// unavailable wraps a transport-level failure (connect error, timeout).
func unavailable(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, err: err}
}

// ConfigMissing reports a required model or credential absent from configuration.
func ConfigMissing(message string) *Error {
	return &Error{Kind: KindUpstreamConfigMissing, Message: message}
}

// PermissionDenied reports a gate rejection with the balance context the
// requester needs to act on it.
func PermissionDenied(message string, credits, required int) *Error {
	return &Error{
		Kind:     KindInsufficientPermission,
		Message:  message,
		Credits:  credits,
		Required: required,
	}
}

// Unparseable reports a response no supported shape matched, keeping the
// offending content for diagnostics.
func Unparseable(message, raw string) *Error {
	return &Error{Kind: KindUnparseableResponse, Message: message, Raw: truncate(raw)}
}

func truncateBody(body []byte) string {
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	const limit = 512
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
