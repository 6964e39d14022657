// pkg/record/codec.go

package record

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimeLayout is the single timestamp format of the JSON stream. Always UTC.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Canonical key order of a JSON record.
const (
	KeyTimestamp = "timestamp"
	KeySource    = "source"
	KeyLevel     = "level"
	KeyMessage   = "message"
	KeyFile      = "file"
	KeyLine      = "line"
	KeyFunction  = "function"
	KeyTraceback = "traceback"
	KeyFields    = "fields"
	KeySignature = "signature"
)

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// SignedRecord is the on-disk unit: a canonical JSON object and, when the
// stream is signed, the tag computed over exactly those bytes.
type SignedRecord struct {
	Body      []byte
	Signature []byte
}

func (r SignedRecord) Signed() bool { return r.Signature != nil }

// Line renders the record as one JSON line. The signature, when present, is
// spliced in as the last key so the body bytes stay recoverable.
func (r SignedRecord) Line() []byte {
	if !r.Signed() {
		out := make([]byte, 0, len(r.Body)+1)
		out = append(out, r.Body...)
		return append(out, '\n')
	}
	sig := hex.EncodeToString(r.Signature)
	out := make([]byte, 0, len(r.Body)+len(sig)+len(KeySignature)+8)
	out = append(out, r.Body[:len(r.Body)-1]...)
	out = append(out, `,"`+KeySignature+`":"`...)
	out = append(out, sig...)
	out = append(out, `"}`...)
	return append(out, '\n')
}

// Codec serializes events. A nil signer yields an unsigned stream.
type Codec struct {
	signer    signing.Signer
	onSignErr func(error)
	cfg       zapcore.EncoderConfig
}

type CodecOption func(*Codec)

// WithSignFailureHandler receives signing failures. The record is still
// emitted, unsigned.
func WithSignFailureHandler(fn func(error)) CodecOption {
	return func(c *Codec) { c.onSignErr = fn }
}

func NewCodec(signer signing.Signer, opts ...CodecOption) *Codec {
	c := &Codec{
		signer: signer,
		// Entry keys stay empty: every key is written as an ordered field.
		cfg: zapcore.EncoderConfig{
			SkipLineEnding: true,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeLevel:    LevelEncoder,
		},
		onSignErr: func(error) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) Signer() signing.Signer { return c.signer }

// Encode is a pure transform apart from calling the signer.
func (c *Codec) Encode(ev Event) (SignedRecord, error) {
	body, err := c.body(ev)
	if err != nil {
		return SignedRecord{}, err
	}
	rec := SignedRecord{Body: body}
	if c.signer == nil {
		return rec, nil
	}
	sig, err := c.sign(body)
	if err != nil {
		c.onSignErr(err)
		return rec, nil
	}
	rec.Signature = sig
	return rec, nil
}

// EncodeLine is Encode followed by Line.
func (c *Codec) EncodeLine(ev Event) ([]byte, error) {
	rec, err := c.Encode(ev)
	if err != nil {
		return nil, err
	}
	return rec.Line(), nil
}

func (c *Codec) body(ev Event) ([]byte, error) {
	fields := make([]zapcore.Field, 0, 9+len(ev.Fields))
	fields = append(fields,
		zap.String(KeyTimestamp, FormatTime(ev.Time)),
		zap.String(KeySource, ev.Source),
		zap.String(KeyLevel, ev.Level.String()),
		zap.String(KeyMessage, ev.Message),
		zap.String(KeyFile, ev.Caller.File),
		zap.Int(KeyLine, ev.Caller.Line),
		zap.String(KeyFunction, ev.Caller.Function),
	)
	if ev.Fault != nil {
		fields = append(fields, zap.String(KeyTraceback, ev.Fault.Trace()))
	}
	if len(ev.Fields) > 0 {
		fields = append(fields, zap.Namespace(KeyFields))
		fields = append(fields, ev.Fields...)
	}

	buf, err := zapcore.NewJSONEncoder(c.cfg).EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return nil, warden_err.NewSigningError(warden_err.EncodingFailure, "json", err)
	}
	defer buf.Free()
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *Codec) sign(body []byte) (sig []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = warden_err.NewSigningError(warden_err.EncodingFailure, c.signer.Algorithm(), fmt.Errorf("signer panicked: %v", r))
		}
	}()
	sig, err = c.signer.Sign(body)
	if err == nil && len(sig) == 0 {
		err = warden_err.NewSigningError(warden_err.EncodingFailure, c.signer.Algorithm(), fmt.Errorf("empty signature"))
	}
	return sig, err
}
