// pkg/signing/signer.go

// Package signing produces and checks integrity tags for serialized log
// records. Symmetric (HMAC-SHA256, keyed BLAKE2b) and asymmetric (Ed25519)
// variants share the Signer and Verifier interfaces so the record codec does
// not care which one is configured.
package signing

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
)

const (
	AlgHMACSHA256 = "hmac-sha256"
	AlgBLAKE2b    = "blake2b-256"
	AlgEd25519    = "ed25519"
)

// Signer computes a deterministic tag over body.
type Signer interface {
	Algorithm() string
	Sign(body []byte) ([]byte, error)
}

// Verifier checks a tag produced by the matching Signer.
type Verifier interface {
	Algorithm() string
	Verify(body, sig []byte) error
}

// ErrSignatureMismatch is returned by Verify when the tag does not match.
var ErrSignatureMismatch = cerr.New("signature mismatch")

// HMAC signs with HMAC-SHA256 over a shared secret. It also verifies.
type HMAC struct {
	key []byte
}

func NewHMAC(key []byte) (*HMAC, error) {
	if len(key) == 0 {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgHMACSHA256, cerr.New("empty key"))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMAC{key: k}, nil
}

func (h *HMAC) Algorithm() string { return AlgHMACSHA256 }

func (h *HMAC) Sign(body []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(body)
	return mac.Sum(nil), nil
}

func (h *HMAC) Verify(body, sig []byte) error {
	want, _ := h.Sign(body)
	if !hmac.Equal(want, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// BLAKE2b signs with keyed BLAKE2b-256. Keys must be 1 to 64 bytes.
type BLAKE2b struct {
	key []byte
}

func NewBLAKE2b(key []byte) (*BLAKE2b, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgBLAKE2b,
			cerr.Newf("key length %d outside 1..%d", len(key), blake2b.Size))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &BLAKE2b{key: k}, nil
}

func (b *BLAKE2b) Algorithm() string { return AlgBLAKE2b }

func (b *BLAKE2b) Sign(body []byte) ([]byte, error) {
	h, err := blake2b.New256(b.key)
	if err != nil {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgBLAKE2b, err)
	}
	h.Write(body)
	return h.Sum(nil), nil
}

func (b *BLAKE2b) Verify(body, sig []byte) error {
	want, err := b.Sign(body)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, sig) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// Ed25519Signer signs with a private key; verification needs only the
// public half (see Ed25519Verifier).
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519,
			cerr.Newf("private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize))
	}
	return &Ed25519Signer{priv: priv}, nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgEd25519 }

func (s *Ed25519Signer) Sign(body []byte) ([]byte, error) {
	if len(s.priv) != ed25519.PrivateKeySize {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519, cerr.New("signer has no key"))
	}
	return ed25519.Sign(s.priv, body), nil
}

func (s *Ed25519Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Verifier returns the matching public-key verifier.
func (s *Ed25519Signer) Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{pub: s.Public()}
}

type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

func NewEd25519Verifier(pub ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, warden_err.NewSigningError(warden_err.BadKey, AlgEd25519,
			cerr.Newf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize))
	}
	return &Ed25519Verifier{pub: pub}, nil
}

func (v *Ed25519Verifier) Algorithm() string { return AlgEd25519 }

func (v *Ed25519Verifier) Verify(body, sig []byte) error {
	if !ed25519.Verify(v.pub, body, sig) {
		return ErrSignatureMismatch
	}
	return nil
}
