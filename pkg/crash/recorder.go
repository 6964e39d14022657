// pkg/crash/recorder.go
//
// Crash reports live outside the logging pipeline: a single text file,
// replaced atomically on each fault, that stays writable when the log
// handlers are the thing that broke.

package crash

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
)

const (
	// FileName is the well-known crash report name inside the log directory.
	FileName = "last_crash.log"
	// RuntimeFileName receives fatal runtime errors through
	// debug.SetCrashOutput. It is appended to, never replaced.
	RuntimeFileName = "runtime_crash.log"
)

// DefaultPath returns the crash file location for logDir.
func DefaultPath(logDir string) string {
	return filepath.Join(logDir, FileName)
}

// RuntimePath returns the runtime crash output next to crashPath.
func RuntimePath(crashPath string) string {
	return filepath.Join(filepath.Dir(crashPath), RuntimeFileName)
}

// Recorder writes the most recent fault to a fixed path.
type Recorder struct {
	path string
	now  func() time.Time
}

func New(path string) *Recorder {
	return &Recorder{path: path, now: time.Now}
}

func (r *Recorder) Path() string { return r.path }

// Record replaces the crash file with a report for f. It never fails
// outward: errors and panics inside are dropped, there is nowhere left to
// report them.
func (r *Recorder) Record(f *record.Fault) {
	if r == nil || f == nil {
		return
	}
	defer func() { _ = recover() }()

	data := Render(f, r.now())
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return
	}
	_ = atomicwriter.WriteFile(r.path, data, 0o644)
}

// Read returns the current report, if any.
func (r *Recorder) Read() ([]byte, error) {
	return os.ReadFile(r.path)
}

// Render formats a self-contained report. Kind, message and frames appear in
// order; the header lines are informational.
func Render(f *record.Fault, at time.Time) []byte {
	var b bytes.Buffer
	host, _ := os.Hostname()
	fmt.Fprintf(&b, "crash report %s\n", uuid.NewString())
	fmt.Fprintf(&b, "time:    %s\n", at.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "pid:     %d\n", os.Getpid())
	fmt.Fprintf(&b, "host:    %s\n", host)
	if f.Context != "" {
		fmt.Fprintf(&b, "context: %s\n", f.Context)
	}
	fmt.Fprintf(&b, "kind:    %s\n", f.Kind)
	fmt.Fprintf(&b, "message: %s\n\n", f.Message)
	b.WriteString(f.Trace())
	b.WriteByte('\n')
	return b.Bytes()
}
