// pkg/config/command.go

package config

import (
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	FlagConfig  = "config"
	FlagEnvFile = "env-file"
	FlagName    = "name"

	// FlagTraceFile is read before the configuration is loaded.
	FlagTraceFile = "telemetry-trace-file"
)

// AddFlags registers the configuration flags on fs. Every key except the
// file selectors can also come from the config file or WARDEN_* variables.
func AddFlags(fs *pflag.FlagSet, name string) {
	d := Default(name)
	fs.String(FlagConfig, "", "config file (default: ./<name>.yaml, then the XDG config dir)")
	fs.String(FlagEnvFile, "", "env file loaded before WARDEN_* variables are read (default: ./.env)")
	fs.String(FlagName, d.Name, "application name; names the log files and the instance lock")
	fs.String("log-dir", "", "log directory (default: platform log dir for --name)")
	fs.String("log-level", record.INFO.String(), "minimum level: DEBUG, INFO, WARNING, ERROR, CRITICAL")
	fs.String("lock-name", "", "instance lock name (default: --name)")
	fs.String("lock-dir", "", "instance lock directory (default: $XDG_RUNTIME_DIR)")
	fs.Duration("lock-timeout", d.Lock.Timeout, "how long to wait for the instance lock; 0 fails at once")
	fs.String("signing-algorithm", "", "hmac-sha256, blake2b-256 or ed25519; empty disables signing")
	fs.String("signing-key-file", "", "key material for --signing-algorithm")
	fs.String("crash-path", "", "crash report file (default: <log dir>/last_crash.log)")
	fs.String(FlagTraceFile, "", "append finished trace spans to this file as JSON lines")
}

// FromCommand loads the configuration selected by cmd's flags.
func FromCommand(cmd *cobra.Command) (*Config, *Loader, error) {
	fs := cmd.Flags()
	name, _ := fs.GetString(FlagName)
	file, _ := fs.GetString(FlagConfig)
	envFile, _ := fs.GetString(FlagEnvFile)

	ld, err := NewLoader(Options{Name: name, File: file, EnvFile: envFile, Flags: fs})
	if err != nil {
		return nil, nil, err
	}
	cfg, err := ld.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, ld, nil
}
