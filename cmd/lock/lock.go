// cmd/lock/lock.go

package lock

import (
	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/instance"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/output"
	"github.com/spf13/cobra"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Instance lock commands",
	}
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether an instance holds the lock",
		Args:  cobra.NoArgs,
		RunE: cli.Wrap(func(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
			cfg, _, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			var opts []instance.Option
			if cfg.Lock.Dir != "" {
				opts = append(opts, instance.WithDir(cfg.Lock.Dir))
			}
			st, err := instance.Probe(rc.Ctx, cfg.LockName(), opts...)
			if err != nil {
				return err
			}

			status, pid := "free", "-"
			if st.Held {
				status = "held"
				if st.Holder != "" {
					pid = st.Holder
				}
			}
			return output.NewTableTo(cmd.OutOrStdout()).
				WithHeaders("NAME", "STATUS", "PID", "PATH").
				AddRow(st.Name, status, pid, st.Path).
				Render()
		}),
	}
}
