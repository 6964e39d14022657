// pkg/logger/colour.go

package logger

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var levelColours = map[record.Level]*color.Color{
	record.DEBUG:    color.New(color.FgBlue, color.Faint),
	record.INFO:     color.New(color.FgGreen),
	record.WARNING:  color.New(color.FgYellow),
	record.ERROR:    color.New(color.FgRed),
	record.CRITICAL: color.New(color.FgHiRed, color.Bold),
}

func init() {
	for _, c := range levelColours {
		c.EnableColor()
	}
}

// ColouredLevel renders the level name, in colour when enabled.
func ColouredLevel(level record.Level, enabled bool) string {
	c, ok := levelColours[level]
	if !enabled || !ok {
		return level.String()
	}
	return c.Sprint(level.String())
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
