// pkg/logger/core.go

package logger

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"go.uber.org/zap/zapcore"
)

// Stream names, used in errors and metrics.
const (
	StreamConsole = "console"
	StreamText    = "text"
	StreamJSON    = "json"
)

// renderFunc turns one event into the bytes of one stream.
type renderFunc func(ev record.Event) ([]byte, error)

// sink is one output shared by a core and all its With-derived children.
// mu covers both rendering and writing so lines never interleave.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	render renderFunc
}

// streamCore is a zapcore.Core writing warden events to one sink.
type streamCore struct {
	zapcore.LevelEnabler
	stream  string
	source  string
	fields  []zapcore.Field
	out     *sink
	metrics *Metrics
}

func newStreamCore(stream, source string, enab zapcore.LevelEnabler, w io.Writer, render renderFunc, m *Metrics) *streamCore {
	return &streamCore{
		LevelEnabler: enab,
		stream:       stream,
		source:       source,
		out:          &sink{w: w, render: render},
		metrics:      m,
	}
}

func (c *streamCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	return &clone
}

func (c *streamCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write returns a WriteError on sink failure; zap reports it on ErrorOutput
// and the caller carries on.
func (c *streamCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := fields
	if len(c.fields) > 0 {
		all = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	}
	ev := record.FromEntry(ent, all, c.source)

	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	line, err := c.out.render(ev)
	if err != nil {
		c.metrics.writeFailed(c.stream)
		return warden_err.NewWriteError(c.stream, err)
	}
	if _, err := c.out.w.Write(line); err != nil {
		c.metrics.writeFailed(c.stream)
		return warden_err.NewWriteError(c.stream, err)
	}
	c.metrics.written(c.stream, ev.Level)
	return nil
}

func (c *streamCore) Sync() error {
	s, ok := c.out.w.(zapcore.WriteSyncer)
	if !ok {
		return nil
	}
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	return s.Sync()
}

// TextTimeLayout is the human-readable timestamp, millisecond precision.
const TextTimeLayout = "2006-01-02 15:04:05,000"

// textRenderer renders "timestamp - [source] - LEVEL - message", followed by
// extra fields as a JSON object and the fault trace on its own lines.
func textRenderer(colour bool) renderFunc {
	fieldsCfg := zapcore.EncoderConfig{SkipLineEnding: true, EncodeDuration: zapcore.StringDurationEncoder, EncodeTime: zapcore.ISO8601TimeEncoder}
	return func(ev record.Event) ([]byte, error) {
		var b bytes.Buffer
		fmt.Fprintf(&b, "%s - [%s] - %s - %s",
			ev.Time.Format(TextTimeLayout), ev.Source, ColouredLevel(ev.Level, colour), ev.Message)
		if len(ev.Fields) > 0 {
			buf, err := zapcore.NewJSONEncoder(fieldsCfg).EncodeEntry(zapcore.Entry{}, ev.Fields)
			if err != nil {
				return nil, err
			}
			b.WriteByte(' ')
			b.Write(buf.Bytes())
			buf.Free()
		}
		if ev.Fault != nil {
			b.WriteByte('\n')
			b.WriteString(ev.Fault.Trace())
		}
		b.WriteByte('\n')
		return b.Bytes(), nil
	}
}

func jsonRenderer(codec *record.Codec) renderFunc {
	return codec.EncodeLine
}
