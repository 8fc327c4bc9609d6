package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout            = errors.New("backend call timed out")
	ErrUnsupportedEngine  = errors.New("unsupported engine")
	ErrMissingCredentials = errors.New("missing backend credentials")
	ErrMalformedResponse  = errors.New("malformed backend response")
	ErrNotConfigured      = errors.New("backend not configured")
)

// Error is a failed call to a named backend.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err with the backend and operation. A nil err stays nil and
// an err that is already an *Error is returned as is.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// Call runs fn bounded by timeout (none when timeout <= 0). When the
// deadline passes first, Call returns an ErrTimeout error without waiting
// for fn, which is left to observe its cancelled context.
func Call[T any](ctx context.Context, timeout time.Duration, backend, op string, fn func(context.Context) (T, error)) (T, error) {
	return CallAbandoned(ctx, timeout, backend, op, fn, nil)
}

// CallAbandoned is Call with a hook for calls it stopped waiting for:
// abandoned runs once fn finally returns, so side effects fn produced after
// the deadline (a file written to disk) can be undone.
func CallAbandoned[T any](ctx context.Context, timeout time.Duration, backend, op string, fn func(context.Context) (T, error), abandoned func()) (T, error) {
	if timeout <= 0 {
		v, err := fn(ctx)
		return v, Wrap(backend, op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	var (
		mu   sync.Mutex
		gone bool
	)
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		mu.Lock()
		late := gone
		mu.Unlock()
		if late {
			if abandoned != nil {
				abandoned()
			}
			return
		}
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			var zero T
			return zero, &Error{Backend: backend, Op: op, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
		}
		return r.v, Wrap(backend, op, r.err)
	case <-callCtx.Done():
		mu.Lock()
		gone = true
		mu.Unlock()
		var zero T
		if ctx.Err() != nil {
			return zero, &Error{Backend: backend, Op: op, Err: ctx.Err()}
		}
		return zero, &Error{Backend: backend, Op: op, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
	}
}
