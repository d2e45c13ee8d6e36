package pool

import (
	"context"
	"sync"

	"github.com/star/sgp4d/internal/propagation"
)

// Future is the caller's handle on a submitted task. It resolves exactly once.
type Future struct {
	id      string
	done    chan struct{}
	once    sync.Once
	out     propagation.Output
	err     error
	abandon func(id string)
}

func newFuture(id string, abandon func(string)) *Future {
	return &Future{id: id, done: make(chan struct{}), abandon: abandon}
}

func rejectedFuture(id string, err error) *Future {
	f := newFuture(id, nil)
	f.settle(propagation.Output{}, err)
	return f
}

// ID returns the task id assigned at submission.
func (f *Future) ID() string { return f.id }

// Done is closed once the task has been resolved or rejected.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles or ctx ends. When ctx ends first the task
// is abandoned: it is dropped from the queue if it has not started, and its
// result is discarded if it has.
func (f *Future) Wait(ctx context.Context) (propagation.Output, error) {
	select {
	case <-f.done:
		return f.out, f.err
	case <-ctx.Done():
		select {
		case <-f.done:
			return f.out, f.err
		default:
		}
		if f.abandon != nil {
			f.abandon(f.id)
		}
		return propagation.Output{}, ctx.Err()
	}
}

// settle reports whether this call resolved the future.
func (f *Future) settle(out propagation.Output, err error) bool {
	settled := false
	f.once.Do(func() {
		f.out, f.err = out, err
		close(f.done)
		settled = true
	})
	return settled
}
