// cmd/keygen/keygen.go

package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate signing key material",
		Long: `Generate a key for signing the JSON log stream.

ed25519 writes <out>/<file>.key (private, PKCS#8) and <out>/<file>.pub
(public, PKIX); verifiers only need the .pub file. hmac-sha256 and
blake2b-256 write a single hex encoded 32-byte secret to <out>/<file>.key.`,
		Args: cobra.NoArgs,
		RunE: cli.Wrap(run),
	}
	cli.AddStringFlag(cmd, "algorithm", "a", signing.AlgEd25519, "hmac-sha256, blake2b-256 or ed25519", false)
	cli.AddStringFlag(cmd, "out", "o", ".", "output directory", false)
	cli.AddStringFlag(cmd, "file", "f", "warden", "base name of the key files", false)
	cli.AddBoolFlag(cmd, "force", "", false, "overwrite existing key files")
	return cmd
}

func run(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
	alg, _ := cmd.Flags().GetString("algorithm")
	dir, _ := cmd.Flags().GetString("out")
	base, err := cli.GetRequiredString(cmd, "file")
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	files, err := generate(alg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return warden_err.NewConfigError(warden_err.InvalidPath, "out", err)
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		path := filepath.Join(dir, base+f.ext)
		if !force {
			if _, err := os.Stat(path); err == nil {
				return cerr.WithHintf(cerr.Newf("%s already exists", path), "pass --force to replace it")
			}
		}
		if err := atomicwriter.WriteFile(path, f.data, f.perm); err != nil {
			return cerr.Wrapf(err, "write %s", path)
		}
		rc.Log.Debug("Wrote key file", zap.String("path", path), zap.String("algorithm", alg))
		fmt.Fprintln(out, path)
	}
	return nil
}

type keyFile struct {
	ext  string
	data []byte
	perm os.FileMode
}

func generate(alg string) ([]keyFile, error) {
	switch alg {
	case signing.AlgEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, cerr.Wrap(err, "generate ed25519 key")
		}
		privPEM, pubPEM, err := signing.MarshalEd25519(priv)
		if err != nil {
			return nil, err
		}
		return []keyFile{
			{ext: ".key", data: privPEM, perm: 0o600},
			{ext: ".pub", data: pubPEM, perm: 0o644},
		}, nil
	case signing.AlgHMACSHA256, signing.AlgBLAKE2b:
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, cerr.Wrap(err, "read random secret")
		}
		return []keyFile{{ext: ".key", data: []byte(hex.EncodeToString(secret) + "\n"), perm: 0o600}}, nil
	default:
		return nil, warden_err.NewConfigError(warden_err.InvalidValue, "algorithm", cerr.Newf("unknown algorithm %q", alg))
	}
}
