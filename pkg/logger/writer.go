// pkg/logger/writer.go

package logger

import (
	"os"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/xdg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// noSizeLimitMB keeps lumberjack from rotating on size; the daily writer
// rotates on the calendar instead.
const noSizeLimitMB = 1 << 20

// rotatingWriter is an io.WriteCloser with explicit rotation.
type rotatingWriter interface {
	Write(p []byte) (int, error)
	Rotate() error
	Close() error
}

// newSizeWriter rotates path once it reaches maxMB, keeping backups files.
func newSizeWriter(path string, maxMB, backups int) (*lumberjack.Logger, error) {
	if err := probeFile(path); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: backups,
	}, nil
}

// dailyWriter rotates path when the local date changes between writes.
type dailyWriter struct {
	mu  sync.Mutex
	out rotatingWriter
	day string
	now func() time.Time
}

func newDailyWriter(path string, backups int) (*dailyWriter, error) {
	if err := probeFile(path); err != nil {
		return nil, err
	}
	w := &dailyWriter{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    noSizeLimitMB,
			MaxBackups: backups,
			LocalTime:  true,
		},
		now: time.Now,
	}
	w.day = dayOf(w.now())
	// An existing file from an earlier day is rotated on the first write.
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		w.day = dayOf(fi.ModTime())
	}
	return w, nil
}

func dayOf(t time.Time) string { return t.Format("2006-01-02") }

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if today := dayOf(w.now()); today != w.day {
		if err := w.out.Rotate(); err != nil {
			return 0, err
		}
		w.day = today
	}
	return w.out.Write(p)
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

// probeFile fails early when path cannot be created or appended to, rather
// than on the first log call.
func probeFile(path string) error {
	if err := xdg.EnsureDir(path); err != nil {
		return warden_err.NewConfigError(warden_err.InvalidPath, "log.dir", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return warden_err.NewConfigError(warden_err.InvalidPath, "log.dir", err)
	}
	return f.Close()
}
