package storage

import (
	"context"
	"sync"

	"github.com/JiseokYu/code-push-server/errors"
)

// Bootstrap memoizes a process-wide asynchronous setup operation. Every
// repository operation awaits it before touching the backend; concurrent
// callers share one in-flight run. Success is remembered for the process
// lifetime. Failure re-arms the handle so a transient provisioning error
// does not wedge the process forever; the failing caller sees the error
// and the next caller triggers a fresh attempt.
type Bootstrap struct {
	fn func(context.Context) error

	mu       sync.Mutex
	done     bool
	err      error
	inflight chan struct{}
}

// NewBootstrap creates a handle around the given setup function. A nil
// function yields an always-ready handle.
func NewBootstrap(fn func(context.Context) error) *Bootstrap {
	b := &Bootstrap{fn: fn}
	if fn == nil {
		b.done = true
	}
	return b
}

// Ensure runs the setup function once, or waits for the run already in
// flight. It returns nil once setup has ever succeeded.
func (b *Bootstrap) Ensure(ctx context.Context) error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil
	}

	if b.inflight == nil {
		ch := make(chan struct{})
		b.inflight = ch
		b.mu.Unlock()

		err := b.fn(ctx)

		b.mu.Lock()
		if err == nil {
			b.done = true
			b.err = nil
		} else {
			b.err = err
		}
		b.inflight = nil
		close(ch)
		b.mu.Unlock()
		return err
	}

	ch := b.inflight
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ConnectionFailed, ctx.Err(), "Bootstrap", "Ensure", "wait for setup")
	case <-ch:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	return b.err
}
