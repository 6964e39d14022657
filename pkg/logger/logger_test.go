package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type jsonLine struct {
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	File      string         `json:"file"`
	Line      int            `json:"line"`
	Function  string         `json:"function"`
	Traceback string         `json:"traceback"`
	Fields    map[string]any `json:"fields"`
	Signature string         `json:"signature"`
}

func newTestLogger(t *testing.T, signer signing.Signer, opts ...Option) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := DefaultConfig("app")
	cfg.Dir = t.TempDir()
	cfg.Level = record.DEBUG
	cfg.Signer = signer
	var console bytes.Buffer
	l, err := New(cfg, append([]Option{WithConsoleWriter(&console), WithColour(false)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, &console
}

func readJSON(t *testing.T, path string) []jsonLine {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []jsonLine
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var jl jsonLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &jl), sc.Text())
		out = append(out, jl)
	}
	require.NoError(t, sc.Err())
	return out
}

func readText(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMessageRoundTripsThroughJSON(t *testing.T) {
	t.Parallel()
	hm, err := signing.NewHMAC([]byte("k"))
	require.NoError(t, err)
	l, console := newTestLogger(t, hm)

	l.Info(`héllo "world"`)
	l.Info("line one\nline two\t{}")
	require.NoError(t, l.Close())

	lines := readJSON(t, l.Config().JSONPath())
	require.Len(t, lines, 2)
	assert.Equal(t, `héllo "world"`, lines[0].Message)
	assert.Equal(t, "line one\nline two\t{}", lines[1].Message)
	assert.Equal(t, "INFO", lines[0].Level)
	assert.Equal(t, "app", lines[0].Source)
	assert.Equal(t, "logger_test.go", lines[0].File)
	assert.Equal(t, "TestMessageRoundTripsThroughJSON", lines[0].Function)
	assert.NotEmpty(t, lines[0].Signature)

	res := record.VerifyFile(l.Config().JSONPath(), hm, record.VerifyOptions{})
	assert.True(t, res.Valid, res.Error)

	text := readText(t, l.Config().TextPath())
	assert.Contains(t, text, ` - [app] - INFO - héllo "world"`)
	assert.Contains(t, console.String(), ` - [app] - INFO - héllo "world"`)
}

func TestCriticalFaultInBothStreams(t *testing.T) {
	t.Parallel()
	l, _ := newTestLogger(t, nil)

	f := &record.Fault{
		Kind:    "runtime.Error",
		Message: "nil map",
		Context: "worker:pump",
		Frames:  []record.Frame{{Function: "main.pump", File: "/src/pump.go", Line: 9}},
	}
	l.Fault("Uncaught fault in worker:pump", f)
	l.Log(record.ERROR, "with extras", nil, zap.String("user", "ana"))
	require.NoError(t, l.Sync())

	lines := readJSON(t, l.Config().JSONPath())
	require.Len(t, lines, 2)
	assert.Equal(t, "CRITICAL", lines[0].Level)
	assert.Contains(t, lines[0].Traceback, "main.pump")
	assert.Contains(t, lines[0].Traceback, "runtime.Error: nil map")
	assert.Empty(t, lines[0].Signature)
	assert.Equal(t, "ana", lines[1].Fields["user"])

	text := readText(t, l.Config().TextPath())
	assert.Contains(t, text, "- CRITICAL - Uncaught fault in worker:pump\nFault in worker:pump\n")
	assert.Contains(t, text, `- ERROR - with extras {"user":"ana"}`)
}

func TestLevelThreshold(t *testing.T) {
	t.Parallel()
	l, console := newTestLogger(t, nil)

	l.SetLevel(record.WARNING)
	assert.Equal(t, record.WARNING, l.Level())
	l.Debug("hidden")
	l.Info("hidden")
	l.Warning("shown")
	l.Critical("shown too")
	require.NoError(t, l.Sync())

	lines := readJSON(t, l.Config().JSONPath())
	require.Len(t, lines, 2)
	assert.Equal(t, "WARNING", lines[0].Level)
	assert.Equal(t, "CRITICAL", lines[1].Level)
	assert.NotContains(t, console.String(), "hidden")
}

func TestNamedChildSource(t *testing.T) {
	t.Parallel()
	l, _ := newTestLogger(t, nil)

	l.Named("db").With(zap.Int("shard", 2)).Info("connected")
	l.Zap().Info("direct")
	require.NoError(t, l.Sync())

	lines := readJSON(t, l.Config().JSONPath())
	require.Len(t, lines, 2)
	assert.Equal(t, "app.db", lines[0].Source)
	assert.EqualValues(t, 2, lines[0].Fields["shard"])
	assert.Equal(t, "logger_test.go", lines[1].File)
}

type brokenSigner struct{}

func (brokenSigner) Algorithm() string          { return "broken" }
func (brokenSigner) Sign([]byte) ([]byte, error) { return nil, errors.New("key vanished") }

func TestSigningFailureDegrades(t *testing.T) {
	t.Parallel()
	core, diag := observer.New(zapcore.DebugLevel)
	m := NewMetrics(nil)
	l, _ := newTestLogger(t, brokenSigner{}, WithDiagnostics(zap.New(core)), WithMetrics(m))

	for i := 0; i < 5; i++ {
		l.Info("still written")
	}
	require.NoError(t, l.Sync())

	lines := readJSON(t, l.Config().JSONPath())
	require.Len(t, lines, 5)
	for _, jl := range lines {
		assert.Empty(t, jl.Signature)
	}
	assert.Equal(t, 1, diag.Len())
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SignFailures))
}

func TestConcurrentWritersNeverInterleave(t *testing.T) {
	t.Parallel()
	hm, err := signing.NewBLAKE2b([]byte("k"))
	require.NoError(t, err)
	l, _ := newTestLogger(t, hm)

	const writers, each = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				l.Info(fmt.Sprintf("writer %d message %d %s", w, i, strings.Repeat("x", 200)))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	res := record.VerifyFile(l.Config().JSONPath(), hm, record.VerifyOptions{})
	require.True(t, res.Valid, res.Error)
	assert.Equal(t, writers*each, res.Lines)

	text := readText(t, l.Config().TextPath())
	assert.Equal(t, writers*each, strings.Count(text, " - [app] - INFO - writer "))
}

func TestMetricsCountRecords(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	l, _ := newTestLogger(t, nil, WithMetrics(m))

	l.Info("a")
	l.Error("b")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues(StreamJSON, "INFO")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues(StreamText, "ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues(StreamConsole, "ERROR")))

	m.ObserveFault(&record.Fault{Context: "worker:pump"})
	m.ObserveFault(&record.Fault{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults.WithLabelValues("worker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults.WithLabelValues("main")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveFault(&record.Fault{}) })
}

func TestNewRejectsUnusableDir(t *testing.T) {
	t.Parallel()
	blocker := t.TempDir() + "/file"
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := DefaultConfig("app")
	cfg.Dir = blocker + "/logs"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.dir")
}

func TestFallbackLogger(t *testing.T) {
	t.Parallel()
	l := NewFallback("", record.INFO)
	assert.Equal(t, "app", l.Config().Name)
	assert.NotPanics(t, func() {
		l.Debug("dropped")
		l.Critical("console only")
	})
	assert.NoError(t, l.Close())
}
