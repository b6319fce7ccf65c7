package task

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by FirstOf when the timeout elapsed first.
var ErrTimeout = errors.New("timed out")

// FirstOf waits for whichever happens first: a value on (or the close of)
// signal, an error on failed, the timeout, or ctx cancellation. The timer is
// stopped on every path. A nil failed channel never fires.
func FirstOf[T any](ctx context.Context, signal <-chan T, failed <-chan error, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-signal:
		return v, nil
	case err := <-failed:
		if err == nil {
			err = errors.New("failed without an error")
		}
		return zero, err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
