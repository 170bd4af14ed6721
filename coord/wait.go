package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitOptions bounds how long a caller waits for a value to appear
type WaitOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration // hard cap; zero waits until ctx is done
}

// DefaultWaitOptions polls from 100ms up to 2s for at most 30s
var DefaultWaitOptions = WaitOptions{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	Timeout:         30 * time.Second,
}

func (o WaitOptions) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.InitialInterval > 0 {
		b.InitialInterval = o.InitialInterval
	}
	if o.MaxInterval > 0 {
		b.MaxInterval = o.MaxInterval
	}
	b.MaxElapsedTime = o.Timeout
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// WaitForValue polls path until it holds a non-empty value. It gives up with
// ErrNotYetAvailable once opts.Timeout has elapsed, or with ctx's error.
func WaitForValue(ctx context.Context, c Client, path string, opts WaitOptions) (string, error) {
	var value string
	op := func() error {
		v, err := GetValue(c, path)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		if v == "" {
			return ErrNotYetAvailable
		}
		value = v
		return nil
	}
	if err := backoff.Retry(op, opts.backOff(ctx)); err != nil {
		return "", waitError(ctx, path, err)
	}
	return value, nil
}

// WaitForChildren polls path until it has at least one child
func WaitForChildren(ctx context.Context, c Client, path string, opts WaitOptions) ([]string, error) {
	var children []string
	op := func() error {
		ch, err := ChildrenOrEmpty(c, path)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(ch) == 0 {
			return ErrNotYetAvailable
		}
		children = ch
		return nil
	}
	if err := backoff.Retry(op, opts.backOff(ctx)); err != nil {
		return nil, waitError(ctx, path, err)
	}
	return children, nil
}

func waitError(ctx context.Context, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("waiting for %s: %w", path, ErrNotYetAvailable)
}
