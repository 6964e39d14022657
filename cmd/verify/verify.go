// cmd/verify/verify.go

package verify

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/output"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrInvalid is returned when the stream fails verification.
var ErrInvalid = cerr.New("log stream failed verification")

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Check the signatures of a JSON log stream",
		Long: `Verify every record of a JSON log stream, stopping at the first bad line.

The file defaults to the JSON stream of --name. The key comes from the
signing settings; with none configured only the record structure is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cli.Wrap(run),
	}
	cli.AddBoolFlag(cmd, "allow-unsigned", "", false, "accept records without a signature")
	cli.AddBoolFlag(cmd, "json", "", false, "print the result as JSON")
	return cmd
}

func run(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
	cfg, _, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}
	path := cfg.LoggerConfig(nil).JSONPath()
	if len(args) == 1 {
		path = args[0]
	}

	var v signing.Verifier
	if cfg.Signing.Algorithm != "" {
		if v, err = cfg.Verifier(); err != nil {
			return err
		}
	}
	allow, _ := cmd.Flags().GetBool("allow-unsigned")
	asJSON, _ := cmd.Flags().GetBool("json")

	res := record.VerifyFile(path, v, record.VerifyOptions{AllowUnsigned: allow})
	rc.Log.Debug("Verified log stream",
		zap.String("path", path),
		zap.Bool("valid", res.Valid),
		zap.Int("lines", res.Lines))

	out := cmd.OutOrStdout()
	if asJSON {
		if err := output.JSONTo(out, res); err != nil {
			return cerr.Wrap(err, "encode result")
		}
	} else if res.Valid {
		fmt.Fprintf(out, "OK %s: %d records, %d signed\n", path, res.Lines, res.Signed)
	} else {
		fmt.Fprintf(out, "FAIL %s line %d: %s\n", path, res.ErrorLine, res.Error)
	}

	if !res.Valid {
		return cerr.WithDetailf(ErrInvalid, "%s line %d", path, res.ErrorLine)
	}
	return nil
}
