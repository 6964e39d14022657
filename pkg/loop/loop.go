// pkg/loop/loop.go
//
// A single-goroutine task loop. Tasks run one at a time to completion in
// submission order. A task whose failure nobody awaits is handed to the
// loop's fault handler.

package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	cerr "github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/panics"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	// ErrRunning is returned when a loop is reconfigured or started twice.
	ErrRunning = cerr.New("loop is running")
	// ErrStopped completes tasks still queued when the loop exits.
	ErrStopped = cerr.New("loop stopped before task ran")
)

// FaultContext describes an unobserved task failure.
type FaultContext struct {
	Message string
	Task    *Task
	Err     error
	Fault   *record.Fault
}

// FaultHandler receives unobserved task failures on the loop goroutine.
type FaultHandler func(l *Loop, fc FaultContext)

type Option func(*Loop)

// WithObserveGrace reports a failed task once it has gone unobserved for d,
// instead of waiting for the loop to exit.
func WithObserveGrace(d time.Duration) Option {
	return func(l *Loop) { l.grace = d }
}

// WithName labels the loop in diagnostics.
func WithName(name string) Option {
	return func(l *Loop) { l.name = name }
}

type Loop struct {
	name  string
	grace time.Duration

	mu      sync.Mutex
	queue   []*Task
	failed  []*Task
	handler FaultHandler

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

func New(opts ...Option) *Loop {
	l := &Loop{
		name: "loop",
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Name() string { return l.name }

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// SetFaultHandler replaces the fault handler. A nil handler restores the
// default. It fails with ErrRunning once Run has started.
func (l *Loop) SetFaultHandler(h FaultHandler) error {
	if l.running.Load() {
		return ErrRunning
	}
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
	return nil
}

// FaultHandler returns the handler set with SetFaultHandler, or nil.
func (l *Loop) FaultHandler() FaultHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

// Spawn queues fn. It is safe to call from any goroutine, including from
// inside a running task.
func (l *Loop) Spawn(name string, fn func(ctx context.Context) error) *Task {
	t := &Task{name: name, fn: fn, done: make(chan struct{})}
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// Stop makes Run return after the current task.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run executes tasks until Stop is called or ctx ends. Failures still
// unobserved when it returns are reported before it does.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	defer l.shutdown()

	var sweep <-chan time.Time
	if l.grace > 0 {
		ticker := time.NewTicker(l.grace / 2)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		if t := l.next(); t != nil {
			l.execute(ctx, t)
			select {
			case <-l.stop:
				return nil
			case <-ctx.Done():
				return context.Cause(ctx)
			default:
			}
			continue
		}
		select {
		case <-l.stop:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-l.wake:
		case <-sweep:
			l.reportUnobserved(time.Now().Add(-l.grace))
		}
	}
}

func (l *Loop) next() *Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	t := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return t
}

func (l *Loop) execute(ctx context.Context, t *Task) {
	var c panics.Catcher
	var err error
	c.Try(func() { err = t.fn(ctx) })
	if r := c.Recovered(); r != nil {
		f := record.NewFault(r.Value, r.Callers)
		f.Context = "task:" + t.name
		t.fault = f
		err = f
		if perr, ok := r.Value.(error); ok {
			err = &panicError{fault: f, value: perr}
		}
	}
	t.finish(err)

	if err == nil || errors.Is(err, context.Canceled) || t.observed.Load() {
		return
	}
	l.mu.Lock()
	l.failed = append(l.failed, t)
	l.mu.Unlock()
}

// reportUnobserved hands every failed task that finished before cutoff and
// is still unobserved to the fault handler.
func (l *Loop) reportUnobserved(cutoff time.Time) {
	l.mu.Lock()
	var due []*Task
	keep := l.failed[:0]
	for _, t := range l.failed {
		switch {
		case t.observed.Load():
		case t.finished.After(cutoff):
			keep = append(keep, t)
		default:
			due = append(due, t)
		}
	}
	l.failed = keep
	l.mu.Unlock()

	for _, t := range due {
		if !t.observed.CompareAndSwap(false, true) {
			continue
		}
		l.report(t)
	}
}

func (l *Loop) report(t *Task) {
	f := t.fault
	if f == nil {
		f = &record.Fault{Kind: record.KindOf(t.err), Message: t.err.Error()}
		f.Context = "task:" + t.name
	}
	fc := FaultContext{
		Message: "Task exception was never retrieved",
		Task:    t,
		Err:     t.err,
		Fault:   f,
	}

	h := l.FaultHandler()
	if h == nil {
		defaultHandler(l, fc)
		return
	}
	if r := panics.Try(func() { h(l, fc) }); r != nil {
		otelzap.L().Error("Unhandled error in loop fault handler",
			zap.String("loop", l.name),
			zap.Any("panic", r.Value))
		defaultHandler(l, fc)
	}
}

func defaultHandler(l *Loop, fc FaultContext) {
	otelzap.L().Error(fc.Message,
		zap.String("loop", l.name),
		zap.String("task", fc.Task.Name()),
		zap.Error(fc.Err))
}

// shutdown completes queued tasks with ErrStopped and reports every
// remaining unobserved failure.
func (l *Loop) shutdown() {
	l.mu.Lock()
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, t := range pending {
		t.observed.Store(true)
		t.finish(ErrStopped)
	}
	l.reportUnobserved(time.Now().Add(time.Hour))
}

// panicError is the error a panicking task completes with when the panic
// value was itself an error; errors.Is sees through to it.
type panicError struct {
	fault *record.Fault
	value error
}

func (e *panicError) Error() string { return e.fault.Error() }
func (e *panicError) Unwrap() error { return e.value }
func (e *panicError) Fault() *record.Fault {
	return e.fault
}

// Task is a unit of work queued on a Loop.
type Task struct {
	name string
	fn   func(ctx context.Context) error

	done     chan struct{}
	err      error
	fault    *record.Fault
	finished time.Time
	observed atomic.Bool
}

func (t *Task) Name() string { return t.name }

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Await waits for the task and returns its error. Awaiting marks the task
// observed, so its failure is never reported as unhandled.
func (t *Task) Await(ctx context.Context) error {
	t.observed.Store(true)
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Err returns the task's error without blocking. Reading it after the task
// finished counts as observing it.
func (t *Task) Err() error {
	select {
	case <-t.done:
		t.observed.Store(true)
		return t.err
	default:
		return nil
	}
}

// Fault returns the panic payload when the task panicked.
func (t *Task) Fault() *record.Fault {
	select {
	case <-t.done:
		return t.fault
	default:
		return nil
	}
}

func (t *Task) finish(err error) {
	t.err = err
	t.finished = time.Now()
	close(t.done)
}
