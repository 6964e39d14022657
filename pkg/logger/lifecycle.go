/* pkg/logger/lifecycle.go */

package logger

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Lifecycle logs application start and stop with process statistics.
type Lifecycle struct {
	log   *Logger
	runID string
	proc  *process.Process

	mu      sync.Mutex
	started time.Time
	stopped bool
}

func NewLifecycle(l *Logger) *Lifecycle {
	lc := &Lifecycle{log: l, runID: uuid.NewString()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		lc.proc = p
	}
	return lc
}

// RunID identifies this run in both log streams.
func (lc *Lifecycle) RunID() string { return lc.runID }

// Start logs "Application started". Only the first call logs.
func (lc *Lifecycle) Start() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.started.IsZero() {
		return
	}
	lc.started = time.Now()

	host, _ := os.Hostname()
	exe, _ := os.Executable()
	fields := []zap.Field{
		zap.String("run_id", lc.runID),
		zap.Int("pid", os.Getpid()),
		zap.Int("ppid", os.Getppid()),
		zap.String("executable", exe),
		zap.String("hostname", host),
		zap.String("go_version", runtime.Version()),
	}
	lc.log.Info("Application started", append(fields, lc.memory()...)...)
}

// Stop logs "Application stopped" with uptime. It is a no-op before Start
// and after the first call.
func (lc *Lifecycle) Stop() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.started.IsZero() || lc.stopped {
		return
	}
	lc.stopped = true

	fields := []zap.Field{
		zap.String("run_id", lc.runID),
		zap.Duration("uptime", time.Since(lc.started)),
		zap.Int("goroutines", runtime.NumGoroutine()),
	}
	fields = append(fields, lc.memory()...)
	if lc.proc != nil {
		if pct, err := lc.proc.CPUPercent(); err == nil {
			fields = append(fields, zap.Float64("cpu_percent", pct))
		}
	}
	lc.log.Info("Application stopped", fields...)
}

func (lc *Lifecycle) memory() []zap.Field {
	if lc.proc == nil {
		return nil
	}
	mem, err := lc.proc.MemoryInfo()
	if err != nil {
		return nil
	}
	return []zap.Field{zap.Uint64("rss_bytes", mem.RSS)}
}
