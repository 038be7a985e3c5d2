// Package backoff factors the single "exponential backoff with ceiling and
// deadline" shape shared by the exporter's three polling loops: the
// destination-store upload marker, the transfer-job completion check, and
// the export-job data-transfer-complete flag (spec Design Notes).
package backoff

import (
	"context"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

// ErrTimeout is returned by Poll when the configured deadline elapses
// before check reports done.
var ErrTimeout = errors.New("backoff: deadline exceeded")

var errNotDone = errors.New("backoff: condition not yet satisfied")

// Config parameterizes one backoff policy: an initial interval that
// doubles on every attempt, a ceiling on any single interval (MaxInterval),
// and a total deadline (MaxElapsedTime) after which the caller gives up.
type Config struct {
	Initial        time.Duration
	MaxInterval    time.Duration
	MaxElapsedTime time.Duration
}

func (c Config) policy() *cenkalti.ExponentialBackOff {
	b := cenkalti.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = c.MaxElapsedTime
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	return b
}

// Poll calls check repeatedly until it reports done=true, returns an error
// wrapped with cenkalti.Permanent (which Poll does not retry), or the
// configured deadline elapses — in which case Poll returns ErrTimeout.
func Poll(ctx context.Context, cfg Config, check func(ctx context.Context) (done bool, err error)) error {
	op := func() error {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if !done {
			return errNotDone
		}
		return nil
	}
	err := cenkalti.Retry(op, cenkalti.WithContext(cfg.policy(), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotDone) {
		return ErrTimeout
	}
	return err
}

// Retry calls op repeatedly under the same backoff policy until it succeeds,
// returns a cenkalti.Permanent error, or the deadline elapses.
func Retry(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	return cenkalti.Retry(func() error { return op(ctx) }, cenkalti.WithContext(cfg.policy(), ctx))
}

// Permanent marks err as non-retryable; Poll and Retry return it immediately.
func Permanent(err error) error { return cenkalti.Permanent(err) }
