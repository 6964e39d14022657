// pkg/config/config.go

// Package config loads warden settings from a YAML file, an optional .env
// file, WARDEN_* environment variables and command line flags, in rising
// order of precedence.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/crash"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the effective configuration of one instrumented process.
type Config struct {
	Name      string          `mapstructure:"name" yaml:"name" validate:"required"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Lock      LockConfig      `mapstructure:"lock" yaml:"lock"`
	Signing   SigningConfig   `mapstructure:"signing" yaml:"signing"`
	Crash     CrashConfig     `mapstructure:"crash" yaml:"crash"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type LogConfig struct {
	// Dir empty means the platform default for Name.
	Dir        string `mapstructure:"dir" yaml:"dir" validate:"omitempty,notfile"`
	Level      string `mapstructure:"level" yaml:"level" validate:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=1"`
}

type LockConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Name empty means Config.Name.
	Name    string        `mapstructure:"name" yaml:"name"`
	Dir     string        `mapstructure:"dir" yaml:"dir" validate:"omitempty,notfile"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

type SigningConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm" validate:"omitempty,oneof=hmac-sha256 blake2b-256 ed25519"`
	KeyFile   string `mapstructure:"key_file" yaml:"key_file" validate:"required_with=Algorithm,omitempty,file"`
}

type CrashConfig struct {
	// Path empty means <log dir>/last_crash.log.
	Path string `mapstructure:"path" yaml:"path" validate:"omitempty,notfile"`
	// RuntimeOutput also mirrors fatal runtime errors the process cannot
	// recover from (concurrent map writes, out of memory) into Path.
	RuntimeOutput bool `mapstructure:"runtime_output" yaml:"runtime_output"`
}

type TelemetryConfig struct {
	// TraceFile receives finished spans as JSON lines. Empty drops them.
	TraceFile string `mapstructure:"trace_file" yaml:"trace_file"`
}

// Default returns the built-in configuration for name.
func Default(name string) Config {
	return Config{
		Name: name,
		Log: LogConfig{
			Level:      record.INFO.String(),
			Console:    true,
			MaxSizeMB:  logger.DefaultMaxSizeMB,
			MaxBackups: logger.DefaultMaxBackups,
		},
		Lock: LockConfig{Enabled: true},
	}
}

// Validate checks c and reports the first failure as a ConfigError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !cerr.As(err, &verrs) || len(verrs) == 0 {
		return warden_err.NewConfigError(warden_err.InvalidValue, "", err)
	}
	fe := verrs[0]
	return warden_err.NewConfigError(kindOf(fe.Tag()), fieldName(fe.Namespace()), cerr.New(fe.Error()))
}

// LogLevel parses Log.Level. Validate has already rejected bad names.
func (c *Config) LogLevel() record.Level {
	l, _ := record.ParseLevel(c.Log.Level)
	return l
}

// LockName is Lock.Name, or Name when unset.
func (c *Config) LockName() string {
	if c.Lock.Name != "" {
		return c.Lock.Name
	}
	return c.Name
}

// LogDir resolves the log directory, choosing the platform default when unset.
func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	return logger.DefaultDir(c.Name)
}

// CrashPath resolves the crash file location.
func (c *Config) CrashPath() string {
	if c.Crash.Path != "" {
		return c.Crash.Path
	}
	return crash.DefaultPath(c.LogDir())
}

// Signer loads the configured signer, or nil when signing is off.
func (c *Config) Signer() (signing.Signer, error) {
	if c.Signing.Algorithm == "" {
		return nil, nil
	}
	return signing.LoadSigner(c.Signing.Algorithm, c.Signing.KeyFile)
}

// Verifier loads a verifier for the configured key, or nil when signing is off.
func (c *Config) Verifier() (signing.Verifier, error) {
	if c.Signing.Algorithm == "" {
		return nil, nil
	}
	return signing.LoadVerifier(c.Signing.Algorithm, c.Signing.KeyFile)
}

// LoggerConfig converts c into the stream settings of pkg/logger.
func (c *Config) LoggerConfig(signer signing.Signer) logger.Config {
	return logger.Config{
		Name:       c.Name,
		Dir:        c.LogDir(),
		Level:      c.LogLevel(),
		Console:    c.Log.Console,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Signer:     signer,
	}
}

// YAML renders c the way `warden config show` prints it.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, cerr.Wrap(err, "render config")
	}
	return out, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("level", func(fl validator.FieldLevel) bool {
		_, err := record.ParseLevel(fl.Field().String())
		return err == nil
	})
	// notfile accepts missing paths and directories, but not regular files.
	_ = v.RegisterValidation("notfile", func(fl validator.FieldLevel) bool {
		info, err := os.Stat(filepath.Clean(fl.Field().String()))
		return err != nil || info.IsDir()
	})
	return v
}

func kindOf(tag string) warden_err.ConfigKind {
	switch tag {
	case "required", "required_with":
		return warden_err.MissingField
	case "file", "notfile":
		return warden_err.InvalidPath
	default:
		return warden_err.InvalidValue
	}
}

// fieldName turns "Config.log.dir" into "log.dir".
func fieldName(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
