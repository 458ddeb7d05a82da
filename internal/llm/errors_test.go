package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"nil", nil, ReasonUnknown},
		{"timeout", errors.New("context deadline exceeded"), ReasonTimeout},
		{"rate limit text", errors.New("429 Too Many Requests"), ReasonRateLimit},
		{"rate limit snake", errors.New("rate_limit_error: slow down"), ReasonRateLimit},
		{"auth", errors.New("401 unauthorized"), ReasonAuth},
		{"api key", errors.New("invalid api key provided"), ReasonAuth},
		{"billing", errors.New("insufficient quota for request"), ReasonBilling},
		{"server", errors.New("503 service overloaded"), ReasonServerError},
		{"invalid", errors.New("400 invalid request body"), ReasonInvalidRequest},
		{"unknown", errors.New("connection reset by peer"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureReasonRetryable(t *testing.T) {
	retryable := []FailureReason{ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonUnknown}
	for _, r := range retryable {
		if !r.Retryable() {
			t.Fatalf("expected %q to be retryable", r)
		}
	}

	fatal := []FailureReason{ReasonAuth, ReasonBilling, ReasonInvalidRequest}
	for _, r := range fatal {
		if r.Retryable() {
			t.Fatalf("expected %q not to be retryable", r)
		}
	}
}

func TestProviderErrorStatusWins(t *testing.T) {
	cause := errors.New("request rejected")
	err := NewProviderError("anthropic", "claude-x", cause).WithStatus(429)

	if err.Reason != ReasonRateLimit {
		t.Fatalf("Reason = %q, want %q", err.Reason, ReasonRateLimit)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to reach the cause")
	}
}

func TestProviderErrorMessageFormat(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("boom")).
		WithStatus(500).
		WithMessage("upstream exploded")

	got := err.Error()
	for _, want := range []string{"[server_error]", "openai", "model=gpt-4o", "status=500", "upstream exploded"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestReasonOfUnwrapsChain(t *testing.T) {
	inner := NewProviderError("anthropic", "m", errors.New("x")).WithStatus(402)
	wrapped := fmt.Errorf("call failed: %w", inner)

	if got := ReasonOf(wrapped); got != ReasonBilling {
		t.Fatalf("ReasonOf() = %q, want %q", got, ReasonBilling)
	}
	if Retryable(wrapped) {
		t.Fatal("billing errors must not be retryable")
	}
}
