package agent

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hupe1980/agencymesh/core"
)

// Retry defaults applied to zero-valued RetryPolicy fields.
const (
	DefaultMaxRetries    = 3
	DefaultBackoffFactor = 2.0
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultMaxDelay      = 30 * time.Second
)

// RetryPolicy controls how transient provider failures are retried.
//
// MaxRetries is the total number of attempts, so MaxRetries=1 disables
// retrying. The wait before retry n (zero based) is
// min(BaseDelay * BackoffFactor^n, MaxDelay).
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor float64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RetryOn       []core.ProviderErrorKind // Subset of the transient kinds
}

// DefaultRetryPolicy returns the policy used by agents without their own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{}.WithDefaults()
}

// WithDefaults fills zero fields with package defaults.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = DefaultBackoffFactor
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.RetryOn == nil {
		p.RetryOn = slices.Clone(core.DefaultRetryableKinds)
	}
	return p
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return core.NewConfigurationError("retry_config.max_retries", "must be >= 1, got %d", p.MaxRetries)
	}
	if p.BackoffFactor < 1 {
		return core.NewConfigurationError("retry_config.backoff_factor", "must be >= 1, got %v", p.BackoffFactor)
	}
	if p.BaseDelay < 0 {
		return core.NewConfigurationError("retry_config.base_delay", "must be >= 0, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return core.NewConfigurationError("retry_config.max_delay", "must be >= base delay %s, got %s", p.BaseDelay, p.MaxDelay)
	}
	for _, k := range p.RetryOn {
		if !k.Transient() {
			return core.NewConfigurationError("retry_config.retry_on", "%q is never retried", k)
		}
	}
	return nil
}

// Delay returns the wait before retry attempt (zero based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a failure of kind is retried under p.
func (p RetryPolicy) ShouldRetry(kind core.ProviderErrorKind) bool {
	return kind.Transient() && slices.Contains(p.RetryOn, kind)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries-1)), ctx)
}

// retryFunc is one provider attempt.
type retryFunc func(ctx context.Context, attempt int) error

// retryNotify observes a failed attempt that will be retried after wait.
type retryNotify func(err *core.ProviderError, attempt int, wait time.Duration)

// retry runs fn until it succeeds, fails permanently or the policy is
// exhausted. It returns the number of attempts made. Provider errors are
// annotated with that number. Caller cancellation stops retrying and
// returns the context error.
func (p RetryPolicy) retry(ctx context.Context, provider string, fn retryFunc, notify retryNotify) (int, error) {
	attempts := 0

	op := func() error {
		attempts++
		err := fn(ctx, attempts)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		pe, ok := core.AsProviderError(err)
		if !ok {
			pe = core.NewProviderError(provider, core.KindUnknown, err)
		}
		if !p.ShouldRetry(pe.Kind) {
			return backoff.Permanent(pe)
		}
		return pe
	}

	var notifyFn backoff.Notify
	if notify != nil {
		notifyFn = func(err error, wait time.Duration) {
			if pe, ok := core.AsProviderError(err); ok {
				notify(pe, attempts, wait)
			}
		}
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notifyFn)
	if err == nil {
		return attempts, nil
	}

	if pe, ok := core.AsProviderError(err); ok {
		annotated := *pe
		annotated.Attempts = attempts
		return attempts, &annotated
	}
	return attempts, err
}
