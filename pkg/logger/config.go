/* pkg/logger/config.go */

package logger

import (
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 7
)

// Config describes the three log streams of one application.
type Config struct {
	// Name is the root source name and the base name of the log files.
	Name string
	// Dir holds the log files. Empty means DefaultDir(Name).
	Dir   string
	Level record.Level
	// Console also writes human-readable lines to stdout.
	Console bool
	// MaxSizeMB is the JSON stream's rotation threshold.
	MaxSizeMB int
	// MaxBackups is how many rotated files each stream keeps.
	MaxBackups int
	// Signer signs every JSON record. Nil writes an unsigned stream.
	Signer signing.Signer
}

// DefaultConfig returns the stream defaults for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:       name,
		Level:      record.INFO,
		Console:    true,
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "app"
	}
	if c.Dir == "" {
		c.Dir = DefaultDir(c.Name)
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultMaxBackups
	}
	return c
}

// TextPath is the daily-rotated human-readable log.
func (c Config) TextPath() string { return filepath.Join(c.Dir, c.Name+".log") }

// JSONPath is the size-rotated JSON log.
func (c Config) JSONPath() string { return filepath.Join(c.Dir, c.Name+".json") }
