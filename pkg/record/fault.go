// pkg/record/fault.go

package record

import (
	"fmt"
	"runtime"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FaultKey is the zap field key carrying a *Fault.
const FaultKey = "fault"

// Frame is one stack frame, innermost first.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Fault is the structured payload of an uncaught fault.
type Fault struct {
	Kind    string
	Message string
	Frames  []Frame
	// Context names where the fault was caught, e.g. "main", "worker:pump".
	Context string
}

// frames from these packages are recovery plumbing, not application code.
var plumbing = []string{
	"runtime.",
	"github.com/sourcegraph/conc/",
	"github.com/CodeMonkeyCybersecurity/warden/pkg/fault.catch",
	"github.com/CodeMonkeyCybersecurity/warden/pkg/loop.(*Loop).execute",
}

func isPlumbing(fn string) bool {
	for _, p := range plumbing {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// FramesFromCallers resolves program counters into frames, dropping runtime
// and recovery plumbing.
func FramesFromCallers(pcs []uintptr) []Frame {
	if len(pcs) == 0 {
		return nil
	}
	out := make([]Frame, 0, len(pcs))
	iter := runtime.CallersFrames(pcs)
	for {
		f, more := iter.Next()
		if f.Function != "" && !isPlumbing(f.Function) {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// Callers captures the current stack, skipping skip frames above the caller.
func Callers(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	return FramesFromCallers(pcs[:n])
}

// KindOf names the type of a panic value or error.
func KindOf(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case runtime.Error:
		return "runtime.Error"
	case error:
		return strings.TrimPrefix(fmt.Sprintf("%T", cerr.UnwrapAll(val)), "*")
	case string:
		return "panic"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}

// NewFault builds a fault from a recovered panic value and the program
// counters captured at recovery.
func NewFault(v any, pcs []uintptr) *Fault {
	msg := fmt.Sprint(v)
	if err, ok := v.(error); ok {
		msg = err.Error()
	}
	return &Fault{
		Kind:    KindOf(v),
		Message: msg,
		Frames:  FramesFromCallers(pcs),
	}
}

// FaultFromError builds a fault for err using the caller's stack.
func FaultFromError(err error) *Fault {
	return &Fault{
		Kind:    KindOf(err),
		Message: err.Error(),
		Frames:  Callers(1),
	}
}

// Trace renders the fault as one text block, most recent call first:
//
//	Traceback (most recent call first):
//	  main.handler
//	    /src/main.go:42
//	runtime.Error: index out of range [3] with length 1
func (f *Fault) Trace() string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	if f.Context != "" {
		fmt.Fprintf(&b, "Fault in %s\n", f.Context)
	}
	b.WriteString("Traceback (most recent call first):\n")
	for _, fr := range f.Frames {
		fmt.Fprintf(&b, "  %s\n    %s:%d\n", fr.Function, fr.File, fr.Line)
	}
	fmt.Fprintf(&b, "%s: %s", f.Kind, f.Message)
	return b.String()
}

func (f *Fault) Error() string { return f.Kind + ": " + f.Message }

// MarshalLogObject lets cores that do not know about faults still render one.
func (f *Fault) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", f.Kind)
	enc.AddString("message", f.Message)
	if f.Context != "" {
		enc.AddString("context", f.Context)
	}
	enc.AddString("trace", f.Trace())
	return nil
}

// FaultField attaches f to a log call.
func FaultField(f *Fault) zap.Field {
	return zap.Object(FaultKey, f)
}

// SplitFault pulls the fault payload out of fields, returning the rest.
func SplitFault(fields []zapcore.Field) (*Fault, []zapcore.Field) {
	var found *Fault
	rest := fields[:0:0]
	for _, fld := range fields {
		if fld.Key == FaultKey && fld.Type == zapcore.ObjectMarshalerType {
			if f, ok := fld.Interface.(*Fault); ok {
				found = f
				continue
			}
		}
		rest = append(rest, fld)
	}
	return found, rest
}
