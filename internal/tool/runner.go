package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/logging"
)

// Policy is the uniform timeout and retry policy applied to every call.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		BackoffMin: time.Second,
		BackoffMax: 10 * time.Second,
	}
}

// Runner executes tools under a Policy and normalizes their results.
type Runner struct {
	policy Policy
	log    *logging.Logger
}

func NewRunner(policy Policy) *Runner {
	def := DefaultPolicy()
	if policy.Timeout <= 0 {
		policy.Timeout = def.Timeout
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BackoffMin <= 0 {
		policy.BackoffMin = def.BackoffMin
	}
	if policy.BackoffMax < policy.BackoffMin {
		policy.BackoffMax = policy.BackoffMin
	}
	return &Runner{policy: policy, log: logging.New("tool")}
}

func (r *Runner) Policy() Policy { return r.policy }

// Run executes t once, retrying only errors tagged retryable. It never
// returns an error: failures become Result{Success:false}.
func (r *Runner) Run(ctx context.Context, t Tool, args map[string]any) Result {
	info := t.Info()
	timeout := r.policy.Timeout
	if info.Timeout > 0 {
		timeout = info.Timeout
	}

	start := time.Now()
	out, err := backoff.Retry(ctx, func() (Output, error) {
		out, err := r.once(ctx, t, args, timeout)
		if err != nil && !IsRetryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.log.Warn("retrying tool", zap.String("tool", info.Name), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	res := Result{Duration: time.Since(start)}

	switch {
	case err == nil:
		res.Success = true
		res.Output = out.Text
		if out.Plan != nil {
			res.Signal = SignalPlanSubmitted
			res.Plan = out.Plan
		}
	case errors.Is(err, ErrTimeout):
		res.Output = fmt.Sprintf("timed out after %ds", int(timeout.Seconds()))
	default:
		res.Output = "Error: " + err.Error()
	}
	return res
}

// once runs a single attempt under a hard deadline. A tool that ignores
// ctx is abandoned when the deadline passes.
func (r *Runner) once(ctx context.Context, t Tool, args map[string]any, timeout time.Duration) (Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out Output
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", t.Info().Name, rec)}
			}
		}()
		out, err := t.Execute(callCtx, args)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Output{}, ErrTimeout
		}
		return o.out, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, ErrTimeout
	}
}

func (r *Runner) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.BackoffMin
	b.MaxInterval = r.policy.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}
