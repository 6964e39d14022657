// pkg/instance/lock.go
//
// Single-instance enforcement backed by an OS lock primitive (flock(2) on
// unix, LockFileEx on windows). The kernel drops the lock when the holding
// process dies, so a crashed owner never leaves a stale lock behind.

package instance

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/xdg"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// pollInterval is how often a timed acquisition retries.
const pollInterval = 25 * time.Millisecond

// Lock is exclusive ownership of a named resource across the machine.
type Lock interface {
	Name() string
	Path() string
	// Acquire takes the lock. timeout 0 never blocks.
	Acquire(ctx context.Context, timeout time.Duration) error
	// Release is idempotent.
	Release() error
	IsHeld() bool
}

type options struct {
	dir string
}

type Option func(*options)

// WithDir places lock files in dir instead of $XDG_RUNTIME_DIR (or the
// temp dir).
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// New returns an unacquired lock for name on the current platform.
func New(name string, opts ...Option) (Lock, error) {
	o := options{dir: xdg.XDGRuntimeDir()}
	for _, opt := range opts {
		opt(&o)
	}
	clean := sanitize(name)
	if clean == "" {
		return nil, warden_err.NewConfigError(warden_err.MissingField, "lock.name", nil)
	}
	return &fileLock{
		name: name,
		path: filepath.Join(o.dir, clean+".lock"),
	}, nil
}

// Acquire is New followed by Lock.Acquire with a background context.
func Acquire(name string, timeout time.Duration, opts ...Option) (Lock, error) {
	return AcquireContext(context.Background(), name, timeout, opts...)
}

func AcquireContext(ctx context.Context, name string, timeout time.Duration, opts ...Option) (Lock, error) {
	l, err := New(name, opts...)
	if err != nil {
		return nil, err
	}
	if err := l.Acquire(ctx, timeout); err != nil {
		return nil, err
	}
	return l, nil
}

// IsAlreadyRunning reports whether err means another instance holds the lock.
func IsAlreadyRunning(err error) bool {
	return warden_err.IsAlreadyRunning(err)
}

// DefaultName is the executable's base name without extension.
func DefaultName() string {
	exe, err := os.Executable()
	if err != nil {
		return "warden"
	}
	base := filepath.Base(exe)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Status describes a lock as seen from outside.
type Status struct {
	Name   string
	Path   string
	Held   bool
	Holder string
}

// Probe reports whether another process holds name. It briefly takes the
// lock itself when it is free.
func Probe(ctx context.Context, name string, opts ...Option) (Status, error) {
	l, err := New(name, opts...)
	if err != nil {
		return Status{}, err
	}
	st := Status{Name: name, Path: l.Path()}
	err = l.Acquire(ctx, 0)
	switch {
	case err == nil:
		return st, l.Release()
	case IsAlreadyRunning(err):
		st.Held = true
		st.Holder = readHolder(l.Path())
		return st, nil
	default:
		return st, err
	}
}

type fileLock struct {
	mu   sync.Mutex
	name string
	path string
	f    *os.File
}

func (l *fileLock) Name() string { return l.name }
func (l *fileLock) Path() string { return l.path }

func (l *fileLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

func (l *fileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return nil
	}
	logger := otelzap.Ctx(ctx)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return warden_err.NewLockError(warden_err.PlatformUnavailable, l.name, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return warden_err.NewLockError(warden_err.PlatformUnavailable, l.name, err)
	}

	var deadline time.Time
	var ticker *time.Ticker
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		ticker = time.NewTicker(pollInterval)
		defer ticker.Stop()
	}

	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return warden_err.NewLockError(warden_err.PlatformUnavailable, l.name, err)
		}
		if ok {
			break
		}
		if timeout <= 0 {
			_ = f.Close()
			logger.Debug("Lock held by another instance", zap.String("lock_file", l.path))
			return warden_err.NewLockError(warden_err.AlreadyHeld, l.name, holderCause(l.path))
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			return warden_err.NewLockError(warden_err.Timeout, l.name, holderCause(l.path))
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return warden_err.NewLockError(warden_err.Timeout, l.name, context.Cause(ctx))
		case <-ticker.C:
		}
	}

	// The PID is informational only; the OS lock is what excludes.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))), 0)
		_ = f.Sync()
	}
	l.f = f

	logger.Debug("Instance lock acquired",
		zap.String("lock_file", l.path),
		zap.Int("pid", os.Getpid()))
	return nil
}

// Release unlocks and closes the handle. The lock file is left in place:
// unlinking it would let a later process lock a fresh inode while an earlier
// opener still waits on the old one.
func (l *fileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	var result *multierror.Error
	if err := unlock(l.f); err != nil {
		result = multierror.Append(result, cerr.Wrap(err, "unlock"))
	}
	if err := l.f.Close(); err != nil {
		result = multierror.Append(result, cerr.Wrap(err, "close lock file"))
	}
	l.f = nil
	return result.ErrorOrNil()
}

func holderCause(path string) error {
	if pid := readHolder(path); pid != "" {
		return cerr.Newf("held by pid %s", pid)
	}
	return nil
}

// readHolder returns the first line of the lock file, or "" if unreadable.
func readHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

// sanitize keeps names usable as file names on every platform. A name that
// had to be rewritten gets a short digest of the original appended, so
// "svc/a" and "svc_a" stay distinct locks.
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if clean == name {
		return clean
	}
	sum := blake2b.Sum256([]byte(name))
	return clean + "-" + hex.EncodeToString(sum[:4])
}
