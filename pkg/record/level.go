// pkg/record/level.go

package record

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level is the ordered severity of an Event.
type Level int8

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Level(%d)", int8(l))
	}
}

// Zap maps the level onto zap. CRITICAL rides on DPanic, which only panics
// in development loggers; warden never builds one.
func (l Level) Zap() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARNING:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case CRITICAL:
		return zapcore.DPanicLevel
	default:
		return zapcore.InfoLevel
	}
}

// FromZap is the inverse of Zap. Panic and Fatal fold into CRITICAL.
func FromZap(l zapcore.Level) Level {
	switch {
	case l <= zapcore.DebugLevel:
		return DEBUG
	case l == zapcore.InfoLevel:
		return INFO
	case l == zapcore.WarnLevel:
		return WARNING
	case l == zapcore.ErrorLevel:
		return ERROR
	default:
		return CRITICAL
	}
}

// ParseLevel accepts level names case-insensitively, plus the zap spellings
// WARN and FATAL.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARNING", "WARN":
		return WARNING, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL", "FATAL", "DPANIC", "PANIC":
		return CRITICAL, nil
	default:
		return INFO, fmt.Errorf("unknown level %q", s)
	}
}

// LevelEncoder writes the warden level names for zap encoders.
func LevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(FromZap(l).String())
}
