// pkg/record/event.go

// Package record turns log events into canonical, optionally signed JSON
// lines and verifies streams of them.
package record

import (
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Caller is the best-effort origin of an event.
type Caller struct {
	File     string
	Line     int
	Function string
}

// Event is one emitted occurrence. Build it once and pass it by value; the
// codec never mutates it.
type Event struct {
	Time    time.Time
	Source  string
	Level   Level
	Message string
	Caller  Caller
	Fault   *Fault
	Fields  []zapcore.Field
}

// FromEntry converts a zap entry and its fields. A fault payload found among
// the fields moves to Event.Fault.
func FromEntry(ent zapcore.Entry, fields []zapcore.Field, defaultSource string) Event {
	src := ent.LoggerName
	if src == "" {
		src = defaultSource
	}
	fault, rest := SplitFault(fields)
	ev := Event{
		Time:    ent.Time,
		Source:  src,
		Level:   FromZap(ent.Level),
		Message: ent.Message,
		Fault:   fault,
		Fields:  rest,
	}
	if ent.Caller.Defined {
		ev.Caller = Caller{
			File:     filepath.Base(ent.Caller.File),
			Line:     ent.Caller.Line,
			Function: shortFunction(ent.Caller.Function),
		}
	}
	return ev
}

// shortFunction trims the import path: "github.com/x/y/pkg.(*T).M" → "(*T).M".
func shortFunction(fn string) string {
	if i := strings.LastIndexByte(fn, '/'); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.IndexByte(fn, '.'); i >= 0 {
		return fn[i+1:]
	}
	return fn
}
