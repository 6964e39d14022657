// cmd/config/config.go

package config

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	wcfg "github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/spf13/cobra"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(newShowCmd())
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after merging defaults, the config file, the .env
file, WARDEN_* variables and flags, in that order of precedence.`,
		Args: cobra.NoArgs,
		RunE: cli.Wrap(func(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
			cfg, ld, err := wcfg.FromCommand(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if file := ld.File(); file != "" {
				fmt.Fprintf(w, "# %s\n", file)
			}
			_, err = w.Write(out)
			return err
		}),
	}
}
