/* pkg/logger/fallback.go */

package logger

import (
	"io"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// newConsoleZap builds a console-only zap logger in the text line format.
func newConsoleZap(w io.Writer, name string, colour bool, level zapcore.LevelEnabler) *zap.Logger {
	core := newStreamCore(StreamConsole, name, level, zapcore.Lock(zapcore.AddSync(w)), textRenderer(colour), nil)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(os.Stderr)))).Named(name)
}

// NewFallback is a console-only Logger for when the log files cannot be
// opened. It has the same API and writes to stdout.
func NewFallback(name string, level record.Level) *Logger {
	if name == "" {
		name = "app"
	}
	cfg := DefaultConfig(name)
	cfg.Level = level
	atom := zap.NewAtomicLevelAt(level.Zap())
	base := newConsoleZap(os.Stdout, name, IsTerminal(os.Stdout), atom)
	sh := &shared{
		cfg:   cfg,
		level: atom,
		diag:  newDiagnostics(base, nil),
	}
	return &Logger{shared: sh, base: base, zl: base.WithOptions(zap.AddCallerSkip(1))}
}

// diagnostics reports the pipeline's own trouble on a side channel, at most
// once per interval so a broken signer cannot flood it.
type diagnostics struct {
	log     *zap.Logger
	metrics *Metrics
	signing rate.Sometimes
}

func newDiagnostics(l *zap.Logger, m *Metrics) *diagnostics {
	return &diagnostics{
		log:     l,
		metrics: m,
		signing: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

func (d *diagnostics) signFailed(err error) {
	d.metrics.signFailed()
	d.signing.Do(func() {
		d.log.Warn("Signing failed, writing unsigned records", zap.Error(err))
	})
}
