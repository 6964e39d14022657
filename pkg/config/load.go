// pkg/config/load.go

package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/instance"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/xdg"
	cerr "github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WARDEN_LOG_LEVEL.
const EnvPrefix = "WARDEN"

// Options selects where Load looks.
type Options struct {
	// Name is the application name. It also names the config file
	// (<name>.yaml) searched for when File is empty.
	Name string
	// File is an explicit config file. It must exist.
	File string
	// EnvFile is an explicit .env file. Empty loads ./.env if present.
	EnvFile string
	// Flags are bound over everything else. Flag names use dashes for the
	// key separator, so --log-level sets log.level.
	Flags *pflag.FlagSet
}

// Loader owns the viper instance behind one configuration so it can be
// reloaded when the file changes.
type Loader struct {
	mu   sync.Mutex
	v    *viper.Viper
	opts Options
}

// NewLoader prepares a loader. Nothing is read until Load. An empty Name
// means the executable's base name.
func NewLoader(opts Options) (*Loader, error) {
	if opts.Name == "" {
		opts.Name = instance.DefaultName()
	}
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default(opts.Name))
	cli.SetViperEnvPrefix(v, EnvPrefix)

	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return nil, warden_err.NewConfigError(warden_err.InvalidPath, "config", err)
		}
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(opts.Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(xdg.XDGConfigPath(opts.Name, opts.Name+".yaml")))
	}

	if opts.Flags != nil {
		if err := cli.BindFlagSet(opts.Flags, v); err != nil {
			return nil, cerr.Wrap(err, "bind flags")
		}
	}
	return &Loader{v: v, opts: opts}, nil
}

// Load is NewLoader followed by Loader.Load.
func Load(opts Options) (*Config, error) {
	ld, err := NewLoader(opts)
	if err != nil {
		return nil, err
	}
	return ld.Load()
}

// Load reads the file (if any), applies env and flags, and validates.
func (ld *Loader) Load() (*Config, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if err := ld.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !cerr.As(err, &notFound) {
			return nil, warden_err.NewConfigError(warden_err.InvalidValue, "config", err)
		}
	}

	cfg := Default(ld.opts.Name)
	if err := ld.v.Unmarshal(&cfg); err != nil {
		return nil, warden_err.NewConfigError(warden_err.InvalidValue, "config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File is the config file in use, or "" when only defaults, env and flags apply.
func (ld *Loader) File() string {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.v.ConfigFileUsed()
}

func (ld *Loader) Viper() *viper.Viper { return ld.v }

func loadEnvFile(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return warden_err.NewConfigError(warden_err.InvalidPath, "env_file", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("name", d.Name)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("lock.enabled", d.Lock.Enabled)
	v.SetDefault("lock.name", d.Lock.Name)
	v.SetDefault("lock.dir", d.Lock.Dir)
	v.SetDefault("lock.timeout", d.Lock.Timeout)
	v.SetDefault("signing.algorithm", d.Signing.Algorithm)
	v.SetDefault("signing.key_file", d.Signing.KeyFile)
	v.SetDefault("crash.path", d.Crash.Path)
	v.SetDefault("crash.runtime_output", d.Crash.RuntimeOutput)
	v.SetDefault("telemetry.trace_file", d.Telemetry.TraceFile)
}
