// pkg/fault/registry.go
//
// Process-wide capture of uncaught faults. One Registry is active at a time;
// Install makes it active and Restore puts back whatever was active before,
// so tests can nest registries deterministically.

package fault

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/crash"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/loop"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/panics"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	active atomic.Pointer[Registry]

	// installed registries, oldest first; the last one is active.
	stackMu sync.Mutex
	stack   []*Registry
)

// Active returns the installed registry, or nil.
func Active() *Registry { return active.Load() }

type Option func(*Registry)

// WithObserver is called with every reported fault before it is logged.
func WithObserver(fn func(*record.Fault)) Option {
	return func(r *Registry) { r.observe = fn }
}

// Registry routes faults to a logger and a crash recorder. Either may be
// nil; a registry with only a recorder still records.
type Registry struct {
	logger   *zap.Logger
	recorder *crash.Recorder
	observe  func(*record.Fault)

	mu        sync.Mutex
	installed bool
	loops     []loopHook
	crashOut  *os.File
}

type loopHook struct {
	l    *loop.Loop
	prev loop.FaultHandler
}

func New(logger *zap.Logger, recorder *crash.Recorder, opts ...Option) *Registry {
	r := &Registry{logger: logger, recorder: recorder}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install makes r the active registry. Installing an already installed
// registry is a no-op.
func (r *Registry) Install() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed {
		return r
	}
	stackMu.Lock()
	stack = append(stack, r)
	active.Store(r)
	stackMu.Unlock()
	r.installed = true
	return r
}

func (r *Registry) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed
}

// Restore reverts everything Install, InstallLoop and SetCrashOutput did:
// the previously active registry and each loop's previous handler come back
// exactly. Registries may be restored in any order; the active one is always
// the most recently installed registry still installed. Restoring an
// uninstalled registry is a no-op.
func (r *Registry) Restore() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.installed {
		return nil
	}

	var result *multierror.Error
	for i := len(r.loops) - 1; i >= 0; i-- {
		h := r.loops[i]
		if err := h.l.SetFaultHandler(h.prev); err != nil {
			result = multierror.Append(result, cerr.Wrapf(err, "restore handler of loop %s", h.l.Name()))
		}
	}
	r.loops = nil

	if r.crashOut != nil {
		if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
			result = multierror.Append(result, err)
		}
		_ = r.crashOut.Close()
		r.crashOut = nil
	}

	unlink(r)
	r.installed = false
	return result.ErrorOrNil()
}

func unlink(r *Registry) {
	stackMu.Lock()
	defer stackMu.Unlock()
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == r {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		active.Store(nil)
		return
	}
	active.Store(stack[len(stack)-1])
}

// InstallLoop routes unobserved task failures of l to r. A loop that is
// already running refuses new handlers; that is logged as a warning and the
// error returned, but the registry keeps working for the other contexts.
func (r *Registry) InstallLoop(l *loop.Loop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.loops {
		if h.l == l {
			return nil
		}
	}
	prev := l.FaultHandler()
	if err := l.SetFaultHandler(r.handleLoopFault); err != nil {
		r.log().Warn("Loop already running, fault handler not installed",
			zap.String("loop", l.Name()),
			zap.Error(err))
		return err
	}
	r.loops = append(r.loops, loopHook{l: l, prev: prev})
	return nil
}

// SetCrashOutput mirrors fatal runtime errors (including panics in
// goroutines not started with Go) into path.
func (r *Registry) SetCrashOutput(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return warden_err.NewConfigError(warden_err.InvalidPath, "crash_output", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return warden_err.NewConfigError(warden_err.InvalidPath, "crash_output", err)
	}
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		_ = f.Close()
		return cerr.Wrap(err, "set crash output")
	}
	r.mu.Lock()
	old := r.crashOut
	r.crashOut = f
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (r *Registry) handleLoopFault(_ *loop.Loop, fc loop.FaultContext) {
	if warden_err.IsInterrupt(fc.Err) {
		return
	}
	r.Report(fc.Fault)
}

// Report logs f at CRITICAL and records it. It never panics.
func (r *Registry) Report(f *record.Fault) {
	if r == nil || f == nil {
		return
	}
	if r.observe != nil {
		_ = panics.Try(func() { r.observe(f) })
	}
	if r.logger != nil {
		_ = panics.Try(func() {
			r.logger.DPanic("Uncaught fault in "+contextName(f), record.FaultField(f))
			_ = r.logger.Sync()
		})
	}
	r.recorder.Record(f)
}

func (r *Registry) log() *zap.Logger {
	if r.logger != nil {
		return r.logger
	}
	return otelzap.L().Logger
}

func contextName(f *record.Fault) string {
	if f.Context == "" {
		return "main"
	}
	return f.Context
}
