// pkg/logger/logger.go
//
// The logging pipeline: one zap logger teeing a console core, a daily
// rotated text file and a size rotated, optionally signed, JSON file.

package logger

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	console     io.Writer
	colour      *bool
	metrics     *Metrics
	diagnostics *zap.Logger
	zapOpts     []zap.Option
}

type Option func(*options)

// WithConsoleWriter sends the console stream to w instead of stdout.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithColour forces console colour on or off.
func WithColour(enabled bool) Option {
	return func(o *options) { o.colour = &enabled }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDiagnostics receives the logger's own problems, such as signing
// failures. It never feeds back into the signed stream.
func WithDiagnostics(l *zap.Logger) Option {
	return func(o *options) { o.diagnostics = l }
}

func WithZapOptions(opts ...zap.Option) Option {
	return func(o *options) { o.zapOpts = append(o.zapOpts, opts...) }
}

// shared is the state common to a Logger and its Named children.
type shared struct {
	cfg     Config
	level   zap.AtomicLevel
	metrics *Metrics
	closers []io.Closer
	once    sync.Once
	diag    *diagnostics
}

// Logger is the handle the application logs through.
type Logger struct {
	*shared
	base *zap.Logger // caller skip 0, for Zap()
	zl   *zap.Logger // caller skip 1, for the methods below
}

// New opens both log files and builds the pipeline. Errors are ConfigErrors
// for an unusable directory.
func New(cfg Config, opts ...Option) (*Logger, error) {
	cfg = cfg.withDefaults()
	o := options{console: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	sh := &shared{
		cfg:     cfg,
		level:   zap.NewAtomicLevelAt(cfg.Level.Zap()),
		metrics: o.metrics,
	}
	diagLogger := o.diagnostics
	if diagLogger == nil {
		diagLogger = newConsoleZap(os.Stderr, cfg.Name+".warden", false, zapcore.WarnLevel)
	}
	sh.diag = newDiagnostics(diagLogger, o.metrics)

	text, err := newDailyWriter(cfg.TextPath(), cfg.MaxBackups)
	if err != nil {
		return nil, err
	}
	jsonOut, err := newSizeWriter(cfg.JSONPath(), cfg.MaxSizeMB, cfg.MaxBackups)
	if err != nil {
		return nil, err
	}
	sh.closers = append(sh.closers, text, jsonOut)

	codec := record.NewCodec(cfg.Signer, record.WithSignFailureHandler(sh.diag.signFailed))

	cores := []zapcore.Core{
		newStreamCore(StreamText, cfg.Name, sh.level, text, textRenderer(false), o.metrics),
		newStreamCore(StreamJSON, cfg.Name, sh.level, jsonOut, jsonRenderer(codec), o.metrics),
	}
	if cfg.Console && o.console != nil {
		colour := false
		if o.colour != nil {
			colour = *o.colour
		} else if f, ok := o.console.(*os.File); ok {
			colour = IsTerminal(f)
		}
		cores = append([]zapcore.Core{
			newStreamCore(StreamConsole, cfg.Name, sh.level, zapcore.Lock(zapcore.AddSync(o.console)), textRenderer(colour), o.metrics),
		}, cores...)
	}

	zopts := append([]zap.Option{
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(os.Stderr))),
	}, o.zapOpts...)
	base := zap.New(zapcore.NewTee(cores...), zopts...).Named(cfg.Name)

	return &Logger{shared: sh, base: base, zl: base.WithOptions(zap.AddCallerSkip(1))}, nil
}

func (l *Logger) Config() Config { return l.cfg }

func (l *Logger) Debug(msg string, fields ...zap.Field)   { l.zl.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)    { l.zl.Info(msg, fields...) }
func (l *Logger) Warning(msg string, fields ...zap.Field) { l.zl.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field)   { l.zl.Error(msg, fields...) }

// Critical logs at the highest severity. It never panics or exits.
func (l *Logger) Critical(msg string, fields ...zap.Field) { l.zl.DPanic(msg, fields...) }

// Log emits msg at level with an optional fault payload.
func (l *Logger) Log(level record.Level, msg string, f *record.Fault, fields ...zap.Field) {
	if f != nil {
		fields = append(fields, record.FaultField(f))
	}
	l.zl.Log(level.Zap(), msg, fields...)
}

// Fault logs f at CRITICAL.
func (l *Logger) Fault(msg string, f *record.Fault) {
	l.zl.DPanic(msg, record.FaultField(f))
}

// Zap exposes the underlying logger for code that takes a *zap.Logger.
func (l *Logger) Zap() *zap.Logger { return l.base }

// Named returns a child logger whose events carry source "<parent>.<name>".
func (l *Logger) Named(name string) *Logger {
	return &Logger{shared: l.shared, base: l.base.Named(name), zl: l.zl.Named(name)}
}

// With returns a child logger that adds fields to every event.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{shared: l.shared, base: l.base.With(fields...), zl: l.zl.With(fields...)}
}

// Ctx returns a context-aware logger for library code.
func (l *Logger) Ctx(ctx context.Context) otelzap.LoggerWithCtx {
	return otelzap.New(l.base).Ctx(ctx)
}

// ReplaceGlobals installs l as the zap and otelzap global logger and returns
// a function restoring the previous ones.
func (l *Logger) ReplaceGlobals() func() {
	undoZap := zap.ReplaceGlobals(l.base)
	undoOtel := otelzap.ReplaceGlobals(otelzap.New(l.base))
	return func() {
		undoOtel()
		undoZap()
	}
}

func (l *Logger) SetLevel(level record.Level) { l.level.SetLevel(level.Zap()) }

func (l *Logger) Level() record.Level { return record.FromZap(l.level.Level()) }

func (l *Logger) Sync() error { return l.base.Sync() }

// Close flushes and closes the log files. Later calls are no-ops. A record
// written after Close reopens its file.
func (l *Logger) Close() error {
	var result *multierror.Error
	l.once.Do(func() {
		_ = l.base.Sync()
		for _, c := range l.closers {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, warden_err.NewWriteError("close", err))
			}
		}
	})
	return result.ErrorOrNil()
}
