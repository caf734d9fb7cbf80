// Package polling implements fixed-interval, attempt-budgeted polling over a
// record fetched from elsewhere. Generation is poll-based by contract: the
// pipeline publishes progress only through the asset record, and consumers
// drain it until the field they need appears or their budget runs out.
package polling

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the attempt budget is exhausted before the
// ready predicate is satisfied.
var ErrTimeout = errors.New("polling: attempt budget exhausted")

// Options controls one polling run. Two budgets are typical in practice: a
// short one for the segmented image (seconds) and a long one for the mesh
// (minutes).
type Options struct {
	Interval    time.Duration
	MaxAttempts int
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks a fetch error as terminal: polling stops immediately
// instead of retrying. Authorization failures and record deletion are the
// expected uses.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Wait fetches until ready returns true, the attempt budget runs out, or a
// permanent error occurs. Exactly MaxAttempts fetches are made in the timeout
// case. Transient fetch errors consume an attempt and polling continues. The
// last observed value is returned alongside ErrTimeout so callers can report
// the state they saw.
func Wait(ctx context.Context, opts Options, fetch func(context.Context) (interface{}, error), ready func(interface{}) bool) (interface{}, error) {
	if opts.MaxAttempts <= 0 {
		return nil, ErrTimeout
	}

	var last interface{}
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		v, err := fetch(ctx)
		if err != nil {
			if IsPermanent(err) {
				return nil, err
			}
		} else {
			last = v
			if ready(v) {
				return v, nil
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	return last, ErrTimeout
}
