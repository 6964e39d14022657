// pkg/record/verify.go

package record

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"io"
	"os"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	cerr "github.com/cockroachdb/errors"
	"github.com/valyala/fastjson"
)

var (
	ErrUnsigned          = cerr.New("record carries no signature")
	ErrSignatureNotLast  = cerr.New("signature is not the last key")
	ErrMalformedRecord   = cerr.New("malformed record")
	maxLineBytes         = 16 << 20
	signatureKeyPrefix   = []byte(`,"` + KeySignature + `":"`)
	signatureValueSuffix = []byte(`"}`)
)

// SplitLine parses one JSON line and separates the signed body from its
// signature. An unsigned record returns a nil signature.
func SplitLine(line []byte) (body, sig []byte, err error) {
	line = bytes.TrimRight(line, "\r\n")
	var p fastjson.Parser
	v, err := p.ParseBytes(line)
	if err != nil {
		return nil, nil, cerr.Wrapf(ErrMalformedRecord, "parse record: %v", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, nil, cerr.Wrap(ErrMalformedRecord, "record is not an object")
	}
	if !v.Exists(KeySignature) {
		return line, nil, nil
	}
	raw := v.GetStringBytes(KeySignature)
	if raw == nil {
		return nil, nil, cerr.Wrap(ErrMalformedRecord, "signature is not a string")
	}
	suffix := make([]byte, 0, len(signatureKeyPrefix)+len(raw)+len(signatureValueSuffix))
	suffix = append(suffix, signatureKeyPrefix...)
	suffix = append(suffix, raw...)
	suffix = append(suffix, signatureValueSuffix...)
	if !bytes.HasSuffix(line, suffix) {
		return nil, nil, ErrSignatureNotLast
	}
	sig, err = hex.DecodeString(string(raw))
	if err != nil {
		return nil, nil, cerr.Wrapf(ErrMalformedRecord, "decode signature: %v", err)
	}
	body = make([]byte, 0, len(line)-len(suffix)+1)
	body = append(body, line[:len(line)-len(suffix)]...)
	body = append(body, '}')
	return body, sig, nil
}

// VerifyLine checks one line against v.
func VerifyLine(line []byte, v signing.Verifier) error {
	body, sig, err := SplitLine(line)
	if err != nil {
		return err
	}
	if sig == nil {
		return ErrUnsigned
	}
	return v.Verify(body, sig)
}

// VerifyResult summarizes a stream check. ErrorLine is 1-based.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Signed    int    `json:"signed"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// VerifyOptions tunes VerifyReader.
type VerifyOptions struct {
	// AllowUnsigned accepts records written while signing was failing.
	AllowUnsigned bool
}

// VerifyReader checks every line of r. A nil verifier only checks that each
// line is a well-formed record. It stops at the first failure.
func VerifyReader(r io.Reader, v signing.Verifier, opts VerifyOptions) VerifyResult {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var res VerifyResult
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		res.Lines++
		body, sig, err := SplitLine(line)
		if err == nil && sig == nil && v != nil && !opts.AllowUnsigned {
			err = ErrUnsigned
		}
		if err == nil && sig != nil {
			res.Signed++
			if v != nil {
				err = v.Verify(body, sig)
			}
		}
		if err != nil {
			res.Error = err.Error()
			res.ErrorLine = res.Lines
			return res
		}
	}
	if err := sc.Err(); err != nil {
		res.Error = err.Error()
		res.ErrorLine = res.Lines + 1
		return res
	}
	res.Valid = true
	return res
}

// VerifyFile opens path and runs VerifyReader over it.
func VerifyFile(path string, v signing.Verifier, opts VerifyOptions) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}
	defer f.Close()
	return VerifyReader(f, v, opts)
}
