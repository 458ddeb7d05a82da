package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes a provider failure for the retry policy.
type FailureReason string

const (
	// ReasonRateLimit indicates throttling (HTTP 429). Retried with a
	// doubled wait each attempt.
	ReasonRateLimit FailureReason = "rate_limit"

	// ReasonTimeout indicates the request timed out. Retried quickly
	// at the base delay.
	ReasonTimeout FailureReason = "timeout"

	// ReasonAuth indicates a bad or expired key (HTTP 401, 403).
	// Never retried.
	ReasonAuth FailureReason = "auth"

	// ReasonBilling indicates quota or payment problems (HTTP 402).
	// Never retried.
	ReasonBilling FailureReason = "billing"

	// ReasonServerError indicates provider-side failure (HTTP 5xx).
	ReasonServerError FailureReason = "server_error"

	// ReasonInvalidRequest indicates a malformed request (HTTP 400).
	ReasonInvalidRequest FailureReason = "invalid_request"

	// ReasonUnknown is the fallback for unclassified errors.
	ReasonUnknown FailureReason = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonAuth, ReasonBilling, ReasonInvalidRequest:
		return false
	default:
		return true
	}
}

// ProviderError is a classified failure from an LLM backend.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause with a reason derived from its text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it. Status
// codes are more reliable than message text, so they win.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithMessage replaces the message with the provider's own wording.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError derives a FailureReason from an error's text. Used
// when the SDK surfaces no structured status.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}

	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "deadline exceeded"),
		strings.Contains(s, "context deadline"):
		return ReasonTimeout
	case strings.Contains(s, "rate limit"),
		strings.Contains(s, "rate_limit"),
		strings.Contains(s, "too many requests"),
		strings.Contains(s, "429"):
		return ReasonRateLimit
	case strings.Contains(s, "unauthorized"),
		strings.Contains(s, "invalid api key"),
		strings.Contains(s, "invalid_api_key"),
		strings.Contains(s, "authentication"),
		strings.Contains(s, "401"),
		strings.Contains(s, "403"):
		return ReasonAuth
	case strings.Contains(s, "billing"),
		strings.Contains(s, "payment"),
		strings.Contains(s, "quota"),
		strings.Contains(s, "402"):
		return ReasonBilling
	case strings.Contains(s, "internal server"),
		strings.Contains(s, "server error"),
		strings.Contains(s, "overloaded"),
		strings.Contains(s, "500"),
		strings.Contains(s, "502"),
		strings.Contains(s, "503"),
		strings.Contains(s, "504"):
		return ReasonServerError
	case strings.Contains(s, "invalid_request"),
		strings.Contains(s, "invalid request"),
		strings.Contains(s, "400"):
		return ReasonInvalidRequest
	}

	return ReasonUnknown
}

func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// ReasonOf extracts the FailureReason from an error chain, classifying
// raw errors by text when no ProviderError is present.
func ReasonOf(err error) FailureReason {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Reason
	}
	return ClassifyError(err)
}

// Retryable reports whether an error is worth another attempt.
func Retryable(err error) bool {
	return ReasonOf(err).Retryable()
}
