// pkg/warden/warden.go

// Package warden wires the instance lock, the log streams, the crash
// recorder and the fault registry into one handle with ordered startup and
// teardown.
package warden

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/crash"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/fault"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/instance"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/loop"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/telemetry"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// traceFlushTimeout bounds the span flush in Close.
const traceFlushTimeout = 5 * time.Second

type options struct {
	registerer prometheus.Registerer
	logOpts    []logger.Option
	globals    bool
}

type Option func(*options)

// WithRegisterer exports the pipeline metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithConsoleWriter sends console lines to w instead of stdout.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) { o.logOpts = append(o.logOpts, logger.WithConsoleWriter(w)) }
}

// WithLoggerOptions passes extra options to logger.New.
func WithLoggerOptions(opts ...logger.Option) Option {
	return func(o *options) { o.logOpts = append(o.logOpts, opts...) }
}

// WithoutGlobals leaves the zap and otelzap globals alone.
func WithoutGlobals() Option {
	return func(o *options) { o.globals = false }
}

// Instance is one running, instrumented process.
type Instance struct {
	cfg       *config.Config
	lock      instance.Lock
	log       *logger.Logger
	metrics   *logger.Metrics
	recorder  *crash.Recorder
	faults    *fault.Registry
	lifecycle *logger.Lifecycle
	degraded  error

	stopTracing telemetry.ShutdownFunc
	undoGlobals func()
	closeOnce   sync.Once
	closeErr    error
}

// Start brings the instance up: lock, log streams, crash recorder, fault
// registry, lifecycle. A held lock fails Start (test with
// instance.IsAlreadyRunning). Unusable log files or signing keys degrade to
// console-only or unsigned logging instead.
func Start(ctx context.Context, cfg *config.Config, opts ...Option) (*Instance, error) {
	if cfg == nil {
		return nil, warden_err.NewConfigError(warden_err.MissingField, "config", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{globals: true}
	for _, opt := range opts {
		opt(&o)
	}

	inst := &Instance{cfg: cfg, metrics: logger.NewMetrics(o.registerer)}

	if cfg.Lock.Enabled {
		var lockOpts []instance.Option
		if cfg.Lock.Dir != "" {
			lockOpts = append(lockOpts, instance.WithDir(cfg.Lock.Dir))
		}
		l, err := instance.AcquireContext(ctx, cfg.LockName(), cfg.Lock.Timeout, lockOpts...)
		if err != nil {
			return nil, err
		}
		inst.lock = l
	}

	signer, signErr := cfg.Signer()
	if signErr != nil {
		signer = nil
	}

	logOpts := append([]logger.Option{logger.WithMetrics(inst.metrics)}, o.logOpts...)
	log, err := logger.New(cfg.LoggerConfig(signer), logOpts...)
	if err != nil {
		inst.degraded = err
		log = logger.NewFallback(cfg.Name, cfg.LogLevel())
		log.Warning("Log files unavailable, logging to console only", zap.Error(err))
	}
	inst.log = log
	if signErr != nil {
		log.Warning("Signing key unusable, writing unsigned records",
			zap.String("algorithm", cfg.Signing.Algorithm), zap.Error(signErr))
	}

	if cfg.Telemetry.TraceFile != "" {
		shutdown, err := telemetry.Init(cfg.Name, cfg.Telemetry.TraceFile)
		if err != nil {
			log.Warning("Trace file unavailable, spans dropped",
				zap.String("path", cfg.Telemetry.TraceFile), zap.Error(err))
		} else {
			inst.stopTracing = shutdown
		}
	}

	inst.recorder = crash.New(cfg.CrashPath())
	inst.faults = fault.New(log.Zap(), inst.recorder, fault.WithObserver(inst.metrics.ObserveFault)).Install()
	if cfg.Crash.RuntimeOutput {
		if err := inst.faults.SetCrashOutput(crash.RuntimePath(cfg.CrashPath())); err != nil {
			log.Warning("Runtime crash output unavailable", zap.Error(err))
		}
	}

	if o.globals {
		inst.undoGlobals = log.ReplaceGlobals()
	}
	inst.lifecycle = logger.NewLifecycle(log)
	inst.lifecycle.Start()
	return inst, nil
}

// Close tears down in reverse: lifecycle, fault registry, tracing, log
// streams, lock. Later calls return the first result.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		var result *multierror.Error
		i.lifecycle.Stop()
		// Faults raised from here on go to the previous registry, not to
		// streams that are about to close.
		if err := i.faults.Restore(); err != nil {
			result = multierror.Append(result, err)
		}
		if i.undoGlobals != nil {
			i.undoGlobals()
		}
		if i.stopTracing != nil {
			ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
			if err := i.stopTracing(ctx); err != nil {
				result = multierror.Append(result, err)
			}
			cancel()
		}
		if err := i.log.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if i.lock != nil {
			if err := i.lock.Release(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		i.closeErr = result.ErrorOrNil()
	})
	return i.closeErr
}

func (i *Instance) Config() *config.Config    { return i.cfg }
func (i *Instance) Logger() *logger.Logger    { return i.log }
func (i *Instance) Metrics() *logger.Metrics  { return i.metrics }
func (i *Instance) Recorder() *crash.Recorder { return i.recorder }
func (i *Instance) Faults() *fault.Registry   { return i.faults }
func (i *Instance) RunID() string             { return i.lifecycle.RunID() }

// Lock is the held instance lock, or nil when locking is disabled.
func (i *Instance) Lock() instance.Lock { return i.lock }

// Degraded reports why the log files could not be opened, if they could not.
func (i *Instance) Degraded() error { return i.degraded }

// Go starts a worker whose panics are reported as faults.
func (i *Instance) Go(name string, fn func()) *fault.Worker {
	return fault.Go(name, fn)
}

// InstallLoop routes l's task failures to the fault registry.
func (i *Instance) InstallLoop(l *loop.Loop) error {
	return i.faults.InstallLoop(l)
}

// WatchConfig applies log level changes from ld's config file until ctx is
// done.
func (i *Instance) WatchConfig(ctx context.Context, ld *config.Loader) (*fault.Worker, error) {
	w, err := config.NewWatcher(ld, func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		if lvl := cfg.LogLevel(); lvl != i.log.Level() {
			i.log.SetLevel(lvl)
			i.log.Info("Log level changed", zap.Stringer("level", lvl))
		}
	})
	if err != nil {
		return nil, err
	}
	return i.Go("config-watch", func() { _ = w.Run(ctx) }), nil
}

// Run starts an instance, runs fn under fault capture and closes the
// instance after any fault has been reported.
func Run(ctx context.Context, cfg *config.Config, fn func(context.Context, *Instance) error, opts ...Option) error {
	inst, err := Start(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	ctx, span := telemetry.Start(ctx, cfg.Name+".run",
		attribute.String("run_id", inst.RunID()))
	err = fault.Run(ctx, func(ctx context.Context) error { return fn(ctx, inst) })
	telemetry.End(span, err)
	if cerr := inst.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Main is Run followed by os.Exit. A second instance exits cleanly.
func Main(cfg *config.Config, fn func(context.Context, *Instance) error, opts ...Option) {
	err := Run(context.Background(), cfg, fn, opts...)
	if instance.IsAlreadyRunning(err) {
		os.Exit(warden_err.ExitOK)
	}
	os.Exit(fault.ExitCode(err))
}
