// Package pool runs propagation requests on a fixed set of execution units.
//
// Each unit owns an Executor (normally a propagation.Engine) and never shares
// it. A single coordinator goroutine owns the FIFO queue, the pending-task
// table and unit states; units only talk to the coordinator over channels.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/star/sgp4d/internal/metrics"
	"github.com/star/sgp4d/internal/propagation"
)

// Config sizes the pool.
type Config struct {
	Size        int           // number of units (default: runtime.NumCPU())
	InitTimeout time.Duration // per-pool startup budget (default: 10s)
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	PoolSize         int `json:"pool_size"`
	BusyWorkers      int `json:"busy_workers"`
	AvailableWorkers int `json:"available_workers"`
	QueueLength      int `json:"queue_length"`
	PendingTasks     int `json:"pending_tasks"`
}

// Pool dispatches submitted requests to execution units.
type Pool struct {
	cfg     Config
	factory Factory
	logger  *slog.Logger

	units []*unit

	submitCh  chan *task
	abandonCh chan string
	events    chan event
	stopCh    chan struct{}
	stopped   chan struct{}

	initMu       sync.Mutex
	initialized  atomic.Bool
	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	busy    atomic.Int64
	ready   atomic.Int64
	queued  atomic.Int64
	pending atomic.Int64
}

// New creates an unstarted pool. A nil factory gives each unit a
// propagation.Engine over the default model registry.
func New(cfg Config, factory Factory, logger *slog.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = runtime.NumCPU()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	if factory == nil {
		factory = EngineFactory(func() (*propagation.Engine, error) {
			return propagation.NewEngine(nil)
		})
	}
	return &Pool{
		cfg:       cfg,
		factory:   factory,
		logger:    logger.With("component", "pool"),
		submitCh:  make(chan *task),
		abandonCh: make(chan string, cfg.Size),
		events:    make(chan event, cfg.Size),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

type initResult struct {
	unit int
	exec Executor
	err  error
}

// Initialize starts every unit and waits until all have built their executor.
// If any unit fails or the InitTimeout elapses, all units are terminated and
// the pool is unusable. Calling Initialize on a running pool is a no-op.
func (p *Pool) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.initialized.Load() {
		return nil
	}
	if p.shuttingDown.Load() {
		return ErrShuttingDown
	}

	start := time.Now()
	results := make(chan initResult, p.cfg.Size)
	p.units = make([]*unit, p.cfg.Size)
	for i := range p.units {
		u := newUnit(i, context.Background(), p.factory, p.logger)
		p.units[i] = u
		go func() {
			exec, err := u.build()
			results <- initResult{unit: u.id, exec: exec, err: err}
		}()
	}

	timer := time.NewTimer(p.cfg.InitTimeout)
	defer timer.Stop()

	for remaining := p.cfg.Size; remaining > 0; remaining-- {
		select {
		case r := <-results:
			if r.err != nil {
				p.abortInit()
				return r.err
			}
			u := p.units[r.unit]
			u.exec = r.exec
			u.setState(StateReady)
		case <-timer.C:
			p.abortInit()
			return fmt.Errorf("%w after %s", ErrInitTimeout, p.cfg.InitTimeout)
		case <-ctx.Done():
			p.abortInit()
			return ctx.Err()
		}
	}

	for _, u := range p.units {
		go u.run(p.events)
	}
	p.ready.Store(int64(len(p.units)))
	p.initialized.Store(true)
	go p.coordinate()

	p.logger.Info("execution units ready",
		"units", len(p.units),
		"backend", propagation.BackendName(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	p.publishStats(0, 0)
	return nil
}

func (p *Pool) abortInit() {
	for _, u := range p.units {
		u.cancel()
		u.setState(StateTerminated)
	}
	p.units = nil
}

// Submit enqueues req and returns its future immediately. The future is
// already rejected if the pool is not running.
func (p *Pool) Submit(req propagation.Request) *Future {
	id := uuid.NewString()
	if p.shuttingDown.Load() {
		return rejectedFuture(id, &TaskError{TaskID: id, Unit: -1, Err: ErrShuttingDown})
	}
	if !p.initialized.Load() {
		return rejectedFuture(id, &TaskError{TaskID: id, Unit: -1, Err: ErrNotInitialized})
	}

	t := &task{
		id:        id,
		req:       req,
		future:    newFuture(id, p.abandon),
		submitted: time.Now(),
		unit:      -1,
	}
	select {
	case p.submitCh <- t:
		return t.future
	case <-p.stopped:
		return rejectedFuture(id, &TaskError{TaskID: id, Unit: -1, Err: ErrShuttingDown})
	}
}

func (p *Pool) abandon(id string) {
	select {
	case p.abandonCh <- id:
	case <-p.stopped:
	}
}

// Shutdown rejects queued tasks with ErrShuttingDown and in-flight ones with
// ErrUnitTerminated, then terminates every unit. Safe to call repeatedly.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.initMu.Lock()
		defer p.initMu.Unlock()

		p.shuttingDown.Store(true)
		if !p.initialized.Load() {
			close(p.stopped)
			return
		}
		close(p.stopCh)
		<-p.stopped
		p.initialized.Store(false)
		p.logger.Info("pool shut down")
	})
}

// Initialized reports whether the pool accepts work.
func (p *Pool) Initialized() bool {
	return p.initialized.Load() && !p.shuttingDown.Load()
}

// Stats returns the latest occupancy snapshot.
func (p *Pool) Stats() Stats {
	return Stats{
		PoolSize:         p.cfg.Size,
		BusyWorkers:      int(p.busy.Load()),
		AvailableWorkers: int(p.ready.Load()),
		QueueLength:      int(p.queued.Load()),
		PendingTasks:     int(p.pending.Load()),
	}
}

// UnitStates returns each unit's current state.
func (p *Pool) UnitStates() []State {
	p.initMu.Lock()
	units := p.units
	p.initMu.Unlock()

	states := make([]State, len(units))
	for i, u := range units {
		states[i] = u.State()
	}
	return states
}

// coordinate is the only goroutine that reads or writes the queue, the
// pending table and unit states after Initialize.
func (p *Pool) coordinate() {
	defer close(p.stopped)

	var queue deque.Deque[*task]
	pending := make(map[string]*task)

	idle := func() *unit {
		for _, u := range p.units {
			if u.State() == StateReady {
				return u
			}
		}
		return nil
	}

	dispatch := func(u *unit, t *task) {
		ctx, cancel := context.WithCancel(u.ctx)
		t.unit = u.id
		t.cancel = cancel
		u.setState(StateBusy)
		metrics.ObserveQueueWait(time.Since(t.submitted))
		u.work <- assignment{id: t.id, ctx: ctx, req: t.req}
	}

	drain := func() {
		for queue.Len() > 0 {
			u := idle()
			if u == nil {
				return
			}
			t := queue.PopFront()
			if t.abandoned {
				continue
			}
			dispatch(u, t)
		}
	}

	refresh := func() {
		var busy, ready int
		for _, u := range p.units {
			switch u.State() {
			case StateBusy:
				busy++
			case StateReady:
				ready++
			}
		}
		p.busy.Store(int64(busy))
		p.ready.Store(int64(ready))
		p.queued.Store(int64(queue.Len()))
		p.pending.Store(int64(len(pending)))
		p.publishStats(busy, ready)
	}

	for {
		select {
		case t := <-p.submitCh:
			pending[t.id] = t
			if u := idle(); u != nil && queue.Len() == 0 {
				dispatch(u, t)
			} else {
				queue.PushBack(t)
			}
			refresh()

		case ev := <-p.events:
			u := p.units[ev.unit]
			switch {
			case ev.crashed:
				metrics.RecordUnitCrash()
				if ev.fatal {
					u.cancel()
					u.setState(StateTerminated)
					p.logger.Error("execution unit terminated after crash", "unit", ev.unit)
				} else {
					u.setState(StateReady)
					p.logger.Warn("execution unit restarted after crash", "unit", ev.unit)
				}
			default:
				u.setState(StateReady)
				if t, ok := pending[ev.taskID]; ok {
					delete(pending, ev.taskID)
					t.cancel()
					p.settle(t, ev)
				}
			}
			drain()
			refresh()

		case id := <-p.abandonCh:
			if t, ok := pending[id]; ok {
				delete(pending, id)
				t.abandoned = true
				if t.cancel != nil {
					t.cancel()
				}
				metrics.RecordTask("abandoned", time.Since(t.submitted))
			}
			refresh()

		case <-p.stopCh:
			for queue.Len() > 0 {
				t := queue.PopFront()
				delete(pending, t.id)
				if !t.abandoned {
					t.future.settle(propagation.Output{}, &TaskError{TaskID: t.id, Unit: -1, Err: ErrShuttingDown})
					metrics.RecordTask("rejected", time.Since(t.submitted))
				}
			}
			for id, t := range pending {
				delete(pending, id)
				if t.cancel != nil {
					t.cancel()
				}
				t.future.settle(propagation.Output{}, &TaskError{TaskID: t.id, Unit: t.unit, Err: ErrUnitTerminated})
				metrics.RecordTask("rejected", time.Since(t.submitted))
			}
			for _, u := range p.units {
				u.cancel()
				u.setState(StateTerminated)
			}
			refresh()
			return
		}
	}
}

func (p *Pool) settle(t *task, ev event) {
	if ev.err != nil {
		p.logger.Warn("task failed",
			"task_id", t.id,
			"unit", ev.unit,
			"error", ev.err,
			"duration_ms", ev.dur.Milliseconds(),
		)
		t.future.settle(propagation.Output{}, &TaskError{TaskID: t.id, Unit: ev.unit, Err: ev.err})
		metrics.RecordTask("error", time.Since(t.submitted))
		return
	}
	p.logger.Debug("task complete",
		"task_id", t.id,
		"unit", ev.unit,
		"duration_ms", ev.dur.Milliseconds(),
	)
	t.future.settle(ev.out, nil)
	metrics.RecordTask("success", time.Since(t.submitted))
}

func (p *Pool) publishStats(busy, ready int) {
	metrics.SetPoolStats(p.cfg.Size, busy, ready, int(p.queued.Load()), int(p.pending.Load()))
}
