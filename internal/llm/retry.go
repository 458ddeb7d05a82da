package llm

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the retry loop around opening a provider stream.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first. 0 means a
	// single attempt.
	MaxRetries int

	// BaseDelay is the unit of backoff. Defaults to one second.
	BaseDelay time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

// wait returns how long to sleep before retrying after a failure of
// the given reason on the given attempt (0-based).
func (p RetryPolicy) wait(reason FailureReason, attempt int) time.Duration {
	switch reason {
	case ReasonRateLimit:
		return p.BaseDelay * time.Duration(1<<attempt)
	case ReasonTimeout:
		return p.BaseDelay
	default:
		return p.BaseDelay * time.Duration(attempt+1)
	}
}

// CallWithRetry opens a completion stream, retrying failures that
// happen before streaming starts. Rate limits back off with a doubled
// wait per attempt, timeouts retry promptly at the base delay, auth
// and billing failures return immediately, and everything else backs
// off linearly. Mid-stream errors are not retried; they arrive on the
// returned channel.
func CallWithRetry(ctx context.Context, p Provider, req *Request, policy RetryPolicy) (<-chan *Chunk, error) {
	policy = policy.normalized()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		ch, err := p.Complete(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		reason := ReasonOf(err)
		if !reason.Retryable() {
			return nil, err
		}
		if attempt == policy.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.wait(reason, attempt)):
		}
	}

	return nil, fmt.Errorf("%s: max retries exceeded: %w", p.Name(), lastErr)
}
