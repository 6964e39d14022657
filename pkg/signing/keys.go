// pkg/signing/keys.go

package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
)

// DecodeSecret accepts a shared secret written as hex or standard base64.
// Anything else is taken verbatim.
func DecodeSecret(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) > 0 {
		return b
	}
	return []byte(s)
}

// ParseEd25519PrivateKey reads a PKCS#8 PEM block, or a hex encoded 32-byte
// seed / 64-byte private key.
func ParseEd25519PrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if block, _ := pem.Decode(raw); block != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519, err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519,
				cerr.Newf("PEM holds %T, not an ed25519 key", key))
		}
		return priv, nil
	}

	b, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519, err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519,
			cerr.Newf("hex key is %d bytes", len(b)))
	}
}

// ParseEd25519PublicKey reads a PKIX PEM block or a hex encoded public key.
func ParseEd25519PublicKey(raw []byte) (ed25519.PublicKey, error) {
	if block, _ := pem.Decode(raw); block != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519, err)
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519,
				cerr.Newf("PEM holds %T, not an ed25519 key", key))
		}
		return pub, nil
	}
	b, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519, err)
	}
	return ed25519.PublicKey(b), nil
}

// NewSigner builds a signer for algorithm from raw key material.
func NewSigner(algorithm string, key []byte) (Signer, error) {
	switch algorithm {
	case AlgHMACSHA256:
		return NewHMAC(DecodeSecret(key))
	case AlgBLAKE2b:
		return NewBLAKE2b(DecodeSecret(key))
	case AlgEd25519:
		priv, err := ParseEd25519PrivateKey(key)
		if err != nil {
			return nil, err
		}
		return NewEd25519Signer(priv)
	default:
		return nil, warden_err.NewSigningError(warden_err.BadKey, algorithm, cerr.New("unknown algorithm"))
	}
}

// NewVerifier builds a verifier for algorithm. For ed25519 the key may be
// either the public key or the private key.
func NewVerifier(algorithm string, key []byte) (Verifier, error) {
	switch algorithm {
	case AlgHMACSHA256:
		return NewHMAC(DecodeSecret(key))
	case AlgBLAKE2b:
		return NewBLAKE2b(DecodeSecret(key))
	case AlgEd25519:
		if pub, err := ParseEd25519PublicKey(key); err == nil && len(pub) == ed25519.PublicKeySize {
			return NewEd25519Verifier(pub)
		}
		priv, err := ParseEd25519PrivateKey(key)
		if err != nil {
			return nil, err
		}
		s, err := NewEd25519Signer(priv)
		if err != nil {
			return nil, err
		}
		return s.Verifier(), nil
	default:
		return nil, warden_err.NewSigningError(warden_err.BadKey, algorithm, cerr.New("unknown algorithm"))
	}
}

// LoadSigner reads key material from path.
func LoadSigner(algorithm, path string) (Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, warden_err.NewSigningError(warden_err.BadKey, algorithm, cerr.Wrapf(err, "read key %s", path))
	}
	return NewSigner(algorithm, raw)
}

// LoadVerifier reads key material from path.
func LoadVerifier(algorithm, path string) (Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, warden_err.NewSigningError(warden_err.BadKey, algorithm, cerr.Wrapf(err, "read key %s", path))
	}
	return NewVerifier(algorithm, raw)
}

// MarshalEd25519 renders a key pair as PKCS#8 and PKIX PEM blocks.
func MarshalEd25519(priv ed25519.PrivateKey) (privPEM, pubPEM []byte, err error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, cerr.Wrap(err, "marshal private key")
	}
	pubDER, err := x509.MarshalPKIXPublicKey(priv.Public())
	if err != nil {
		return nil, nil, cerr.Wrap(err, "marshal public key")
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}
