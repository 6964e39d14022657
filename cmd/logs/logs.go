// cmd/logs/logs.go

package logs

import (
	"fmt"
	"os"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/logger"
	"github.com/spf13/cobra"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Log stream commands",
	}
	cmd.AddCommand(newTailCmd())
	return cmd
}

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the last lines of a log stream",
		Args:  cobra.NoArgs,
		RunE: cli.Wrap(func(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
			cfg, _, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			asJSON, _ := cmd.Flags().GetBool("json")

			lc := cfg.LoggerConfig(nil)
			path := lc.TextPath()
			if asJSON {
				path = lc.JSONPath()
			}
			lines, err := logger.TailLines(path, n)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colour := out == os.Stdout && logger.IsTerminal(os.Stdout)
			for _, line := range lines {
				if asJSON {
					line = logger.ColorizeLogLine(line, colour)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		}),
	}
	cli.AddIntFlag(cmd, "lines", "n", 20, "number of lines")
	cli.AddBoolFlag(cmd, "json", "", false, "read the JSON stream instead of the text stream")
	return cmd
}
