package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/star/sgp4d/internal/propagation"
)

// State is an execution unit's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateBusy
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Executor runs one request. Each unit owns its executor exclusively.
type Executor interface {
	Execute(ctx context.Context, req propagation.Request) (propagation.Output, error)
}

// Factory builds the executor for a unit. It is called once at startup and
// again whenever the unit recovers from a crash.
type Factory func(unit int) (Executor, error)

// EngineFactory returns a Factory that gives every unit its own
// propagation.Engine.
func EngineFactory(newEngine func() (*propagation.Engine, error)) Factory {
	return func(int) (Executor, error) {
		return newEngine()
	}
}

// task is one submission. Only the coordinator touches its fields after
// Submit hands it over.
type task struct {
	id        string
	req       propagation.Request
	future    *Future
	submitted time.Time
	unit      int
	cancel    context.CancelFunc
	abandoned bool
}

// event is what a unit reports back to the coordinator.
type event struct {
	unit   int
	taskID string
	out    propagation.Output
	err    error
	dur    time.Duration

	// crashed is set when the executor panicked. taskID is empty in that case.
	crashed bool
	// fatal is set when the executor could not be rebuilt after a crash.
	fatal bool
}

type assignment struct {
	id  string
	ctx context.Context
	req propagation.Request
}

type unit struct {
	id      int
	state   atomic.Int32
	work    chan assignment
	ctx     context.Context
	cancel  context.CancelFunc
	exec    Executor
	factory Factory
	logger  *slog.Logger
}

func newUnit(id int, parent context.Context, factory Factory, logger *slog.Logger) *unit {
	ctx, cancel := context.WithCancel(parent)
	u := &unit{
		id:      id,
		work:    make(chan assignment, 1),
		ctx:     ctx,
		cancel:  cancel,
		factory: factory,
		logger:  logger.With("unit", id),
	}
	u.state.Store(int32(StateUninitialized))
	return u
}

func (u *unit) State() State { return State(u.state.Load()) }

func (u *unit) setState(s State) { u.state.Store(int32(s)) }

// build runs the factory, converting a panic into an error.
func (u *unit) build() (exec Executor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: unit %d panicked: %v", ErrUnitInit, u.id, r)
		}
	}()
	exec, err = u.factory(u.id)
	if err != nil {
		return nil, fmt.Errorf("%w: unit %d: %v", ErrUnitInit, u.id, err)
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: unit %d: factory returned nil executor", ErrUnitInit, u.id)
	}
	return exec, nil
}

// run processes assignments until the unit's context ends.
func (u *unit) run(events chan<- event) {
	for {
		select {
		case a := <-u.work:
			ev := u.execute(a)
			select {
			case events <- ev:
			case <-u.ctx.Done():
				return
			}
			if ev.fatal {
				return
			}
		case <-u.ctx.Done():
			return
		}
	}
}

func (u *unit) execute(a assignment) (ev event) {
	start := time.Now()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		u.logger.Error("execution unit crashed",
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
		ev = event{unit: u.id, crashed: true, dur: time.Since(start)}

		exec, err := u.build()
		if err != nil {
			u.logger.Error("execution unit rebuild failed", "error", err)
			ev.fatal = true
			return
		}
		u.exec = exec
	}()

	out, err := u.exec.Execute(a.ctx, a.req)
	return event{unit: u.id, taskID: a.id, out: out, err: err, dur: time.Since(start)}
}
