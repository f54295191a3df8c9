package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bastion.ai/internal/sim/simerr"
)

// Result is what every collaborator call site gets back. Err is always a
// *simerr.CollaboratorError when set.
type Result[T any] struct {
	Value   T
	Err     error
	Elapsed time.Duration
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Invoke runs fn bounded by timeout. Panics become errors. A call that
// outlives the timeout is abandoned; its late result is discarded.
func Invoke[T any](ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error)) Result[T] {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v: v, err: err}
	}()

	var res Result[T]
	select {
	case o := <-done:
		res.Value, res.Err = o.v, o.err
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	res.Elapsed = time.Since(start)
	if res.Err != nil {
		var zero T
		res.Value = zero
		res.Err = &simerr.CollaboratorError{
			Collaborator: name,
			Timeout:      errors.Is(res.Err, context.DeadlineExceeded),
			Err:          res.Err,
		}
	}
	return res
}
