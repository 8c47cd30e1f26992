package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/your-org/storelens/internal/observability"
)

// callPolicy bounds one collaborator call.
type callPolicy struct {
	attempts  int
	initial   time.Duration
	max       time.Duration
	timeout   time.Duration
	permanent func(error) bool
}

// call runs op with a per-attempt timeout, retrying with exponential
// backoff until it succeeds, fails permanently, attempts run out or ctx
// is done.
func call(ctx context.Context, stage Stage, p callPolicy, op func(context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.initial
	exp.MaxInterval = p.max
	exp.MaxElapsedTime = 0

	retries := uint64(0)
	if p.attempts > 1 {
		retries = uint64(p.attempts - 1)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			observability.StageRetries.WithLabelValues(string(stage)).Inc()
		}

		actx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		err := op(actx)
		if err != nil && p.permanent != nil && p.permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
