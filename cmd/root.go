/* cmd/root.go */

package cmd

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/warden/cmd/config"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/crash"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/keygen"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/lock"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/logs"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/verify"
	wcfg "github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/telemetry"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the warden command tree.
func NewRootCmd() *cobra.Command {
	var shutdown telemetry.ShutdownFunc
	root := &cobra.Command{
		Use:   "warden",
		Short: "Inspect the logs, locks and crash reports of warden-instrumented services",
		Long: `warden reads what an instrumented service leaves behind: its signed JSON
log stream, its last crash report and its instance lock.

Examples:
  warden verify --name api --signing-algorithm ed25519 --signing-key-file api.pub
  warden crash show --name api
  warden lock status --name api
  warden logs tail --name api -n 50
  warden config show --config /etc/api/api.yaml`,
		SilenceUsage: true,
		// Spans are exported as they end, so a failed command still leaves
		// its trace behind even though PostRun is skipped.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString(wcfg.FlagTraceFile)
			var err error
			shutdown, err = telemetry.Init("warden", path)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(cmd.Context())
		},
	}
	wcfg.AddFlags(root.PersistentFlags(), "warden")

	root.AddCommand(
		verify.NewCmd(),
		crash.NewCmd(),
		lock.NewCmd(),
		config.NewCmd(),
		logs.NewCmd(),
		keygen.NewCmd(),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
