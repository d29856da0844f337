package ecocash

import (
	"context"
	"time"

	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
)

// Policy decides how many attempts a call gets and how long to wait
// between them.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultPolicy matches the API documentation: three attempts with
// exponential backoff of 2s then 4s between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

// Executor wraps client calls with bounded retries. Only network errors,
// 5xx responses and 429s are retried; other client errors are returned on
// the first attempt. The sleep function is injectable so tests never hit
// the wall clock.
type Executor struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
	sink   *observe.Sink
}

func NewExecutor(sink *observe.Sink) *Executor {
	return &Executor{
		policy: DefaultPolicy(),
		sleep:  sleepContext,
		sink:   sink,
	}
}

// NewExecutorWithPolicy is used by tests to inject a policy and sleep.
func NewExecutorWithPolicy(policy Policy, sleep func(ctx context.Context, d time.Duration) error, sink *observe.Sink) *Executor {
	if sleep == nil {
		sleep = sleepContext
	}
	return &Executor{policy: policy, sleep: sleep, sink: sink}
}

// Do runs the call until it succeeds, fails permanently or attempts run
// out, and returns the last result. Backoff is applied only between
// attempts and is abandoned if the surrounding request is cancelled.
func (e *Executor) Do(ctx context.Context, operation string, call func(ctx context.Context) Result) Result {
	var res Result
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		res = call(ctx)

		statusCode := 0
		if res.Err != nil {
			statusCode = res.Err.StatusCode
		}
		e.sink.APIAttempt(operation, res.Endpoint, attempt, statusCode, res.Err)

		if res.Success || !res.Err.Retryable() {
			return res
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, e.policy.Backoff(attempt)); err != nil {
			// Caller gave up; hand back what we have.
			return res
		}
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
