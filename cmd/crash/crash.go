// cmd/crash/crash.go

package crash

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	wcrash "github.com/CodeMonkeyCybersecurity/warden/pkg/crash"
	"github.com/spf13/cobra"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crash",
		Short: "Crash report commands",
	}
	cmd.AddCommand(newShowCmd())
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the last crash report",
		Args:  cobra.NoArgs,
		RunE: cli.Wrap(func(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
			cfg, _, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			path := cfg.CrashPath()

			data, err := wcrash.New(path).Read()
			switch {
			case errors.Is(err, fs.ErrNotExist):
				fmt.Fprintf(out, "no crash recorded at %s\n", path)
				return nil
			case err != nil:
				return err
			}
			_, err = out.Write(data)
			return err
		}),
	}
	return cmd
}
