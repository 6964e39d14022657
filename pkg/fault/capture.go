// pkg/fault/capture.go

package fault

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/sourcegraph/conc/panics"
)

// ErrInterrupted is the cause attached to the context when the user sends
// an interrupt during Run.
var ErrInterrupted = warden_err.ErrInterrupted

// Error is what a capture point returns after reporting a panic.
type Error struct {
	Fault *record.Fault
	Value any
}

func (e *Error) Error() string { return e.Fault.Error() }

func (e *Error) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Worker is a goroutine started with Go.
type Worker struct {
	name string
	done chan struct{}
	err  error
}

func (w *Worker) Name() string { return w.name }

// Done is closed when the worker's function has returned or panicked.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker ends. It returns *Error if the worker
// panicked, ErrInterrupted if it panicked with an interrupt.
func (w *Worker) Wait() error {
	<-w.done
	return w.err
}

// Go runs fn on a new goroutine. A panic escaping fn is reported to the
// active registry and ends the goroutine instead of the process. With no
// registry installed the panic is re-raised.
func Go(name string, fn func()) *Worker {
	w := &Worker{name: name, done: make(chan struct{})}
	go catchWorker(w, fn)
	return w
}

func catchWorker(w *Worker, fn func()) {
	defer close(w.done)
	var c panics.Catcher
	c.Try(fn)
	w.err = deliver("worker:"+w.name, c.Recovered())
}

// Run calls fn on the current goroutine, reporting a panic that escapes it.
// The first SIGINT or SIGTERM cancels ctx with cause ErrInterrupted and
// restores the default disposition, so a second one kills the process.
func Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-sigs:
			signal.Stop(sigs)
			cancel(ErrInterrupted)
		case <-finished:
		}
	}()

	err := catchMain(ctx, fn)
	if err == nil || errors.Is(err, context.Canceled) {
		if cause := context.Cause(ctx); errors.Is(cause, ErrInterrupted) {
			return ErrInterrupted
		}
	}
	return err
}

func catchMain(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var c panics.Catcher
	c.Try(func() { err = fn(ctx) })
	if rec := c.Recovered(); rec != nil {
		return deliver("main", rec)
	}
	return err
}

// Main runs fn under Run and exits the process with ExitCode of the result.
func Main(fn func(ctx context.Context) error) {
	os.Exit(ExitCode(Run(context.Background(), fn)))
}

// ExitCode extends warden_err.ExitCode with the panic status.
func ExitCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) && !warden_err.IsInterrupt(err) {
		return warden_err.ExitPanic
	}
	return warden_err.ExitCode(err)
}

// deliver turns a recovered panic into a report. Interrupts pass through
// unreported.
func deliver(where string, rec *panics.Recovered) error {
	if rec == nil {
		return nil
	}
	if err, ok := rec.Value.(error); ok && warden_err.IsInterrupt(err) {
		return ErrInterrupted
	}
	r := Active()
	if r == nil {
		panic(rec.AsError())
	}
	f := record.NewFault(rec.Value, rec.Callers)
	f.Context = where
	r.Report(f)
	return &Error{Fault: f, Value: rec.Value}
}
