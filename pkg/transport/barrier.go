package transport

import (
	"context"
	"sync"
)

// barrier is a one-shot completion: the first resolve wins and every wait,
// before or after it, observes the same result.
type barrier struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newBarrier() *barrier {
	return &barrier{done: make(chan struct{})}
}

// resolve completes the barrier with err and reports whether this call did it
func (b *barrier) resolve(err error) bool {
	resolved := false
	b.once.Do(func() {
		b.err = err
		close(b.done)
		resolved = true
	})
	return resolved
}

// wait blocks until the barrier resolves or ctx ends
func (b *barrier) wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *barrier) resolved() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
