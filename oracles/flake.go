package oracles

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/solver-ralph/sr/evidence"
)

// Attempt records one execution of an oracle under the retry policy. Attempts
// go into the evidence bundle; a retry that changes the outcome is visible to
// the flake check, never silently absorbed.
type Attempt struct {
	Number     int                   `json:"number"`
	Status     evidence.OracleStatus `json:"status"`
	DurationMS int64                 `json:"duration_ms"`
	Error      string                `json:"error,omitempty"`
}

// FlakePolicy controls recorded retries of oracle executions.
type FlakePolicy struct {
	// MaxRetries beyond the first attempt. Zero disables retrying.
	MaxRetries uint64
	// Backoff base for the fibonacci schedule.
	Backoff time.Duration
	// RetryFailures also retries FAIL outcomes. The attempts stay recorded,
	// so a FAIL that turns into a PASS is surfaced by the flake check rather
	// than absorbed.
	RetryFailures bool
}

// DefaultFlakePolicy retries infrastructure errors twice.
func DefaultFlakePolicy() FlakePolicy {
	return FlakePolicy{
		MaxRetries: 2,
		Backoff:    500 * time.Millisecond,
	}
}

// RunWithRetry executes one oracle under the policy. ERROR outcomes are
// always retried; FAIL only when the policy says so. Every attempt is
// recorded and returned alongside the final result.
func RunWithRetry(ctx context.Context, policy FlakePolicy, execute func(ctx context.Context) evidence.OracleResult) (evidence.OracleResult, []Attempt) {
	var attempts []Attempt
	var last evidence.OracleResult

	b := retry.NewFibonacci(policy.Backoff)
	_ = retry.Do(ctx, retry.WithMaxRetries(policy.MaxRetries, b), func(ctx context.Context) error {
		last = execute(ctx)
		attempts = append(attempts, Attempt{
			Number:     len(attempts) + 1,
			Status:     last.Status,
			DurationMS: last.DurationMS,
			Error:      last.ErrorMessage,
		})
		if last.Status == evidence.StatusError ||
			(policy.RetryFailures && last.Status == evidence.StatusFail) {
			return retry.RetryableError(errAttemptFailed)
		}
		return nil
	})
	return last, attempts
}

// IsFlaky reports whether the attempts flip-flopped between passing and
// failing outcomes, the signature of a flaky oracle.
func IsFlaky(attempts []Attempt) bool {
	sawPass, sawFail := false, false
	for _, a := range attempts {
		switch a.Status {
		case evidence.StatusPass:
			sawPass = true
		case evidence.StatusFail:
			sawFail = true
		}
	}
	return sawPass && sawFail
}

type attemptError struct{}

func (attemptError) Error() string { return "oracle attempt failed" }

var errAttemptFailed = attemptError{}
