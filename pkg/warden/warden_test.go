package warden

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/crash"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/fault"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/instance"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/signing"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// These tests install process-wide state (fault registry, zap globals) and
// do not run in parallel.

type entry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Traceback string         `json:"traceback"`
	Fields    map[string]any `json:"fields"`
	Signature string         `json:"signature"`
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default("svc")
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Log.Level = "DEBUG"
	cfg.Lock.Dir = filepath.Join(dir, "run")
	return &cfg
}

func start(t *testing.T, cfg *config.Config, opts ...Option) (*Instance, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	inst, err := Start(context.Background(), cfg, append([]Option{WithConsoleWriter(&console)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst, &console
}

func entries(t *testing.T, path string) []entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func levels(es []entry, level string) []entry {
	var out []entry
	for _, e := range es {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func TestWorkerFaultReachesBothStreamsAndCrashFile(t *testing.T) {
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	inst, _ := start(t, cfg, WithRegisterer(reg))

	w := inst.Go("pump", func() {
		var m map[string]int
		m["x"] = 1
	})
	var fe *fault.Error
	require.ErrorAs(t, w.Wait(), &fe)
	require.NoError(t, inst.Close())

	lc := cfg.LoggerConfig(nil)
	crit := levels(entries(t, lc.JSONPath()), "CRITICAL")
	require.Len(t, crit, 1)
	assert.Equal(t, "Uncaught fault in worker:pump", crit[0].Message)
	assert.Contains(t, crit[0].Traceback, "assignment to entry in nil map")

	text, err := os.ReadFile(lc.TextPath())
	require.NoError(t, err)
	assert.Contains(t, string(text), "- CRITICAL - Uncaught fault in worker:pump")
	assert.Contains(t, string(text), "- INFO - Application stopped")

	report, err := os.ReadFile(cfg.CrashPath())
	require.NoError(t, err)
	assert.Contains(t, string(report), "worker:pump")
	assert.Equal(t, 1.0, testutil.ToFloat64(inst.Metrics().Faults.WithLabelValues("worker")))
}

func TestInterruptIsNotAFault(t *testing.T) {
	cfg := testConfig(t)
	inst, _ := start(t, cfg)

	w := inst.Go("reader", func() { panic(warden_err.ErrInterrupted) })
	assert.ErrorIs(t, w.Wait(), warden_err.ErrInterrupted)
	require.NoError(t, inst.Close())

	assert.Empty(t, levels(entries(t, cfg.LoggerConfig(nil).JSONPath()), "CRITICAL"))
	_, err := os.Stat(cfg.CrashPath())
	assert.True(t, os.IsNotExist(err))
}

func TestSecondInstanceIsAlreadyRunning(t *testing.T) {
	cfg := testConfig(t)
	first, _ := start(t, cfg)

	begin := time.Now()
	_, err := Start(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, instance.IsAlreadyRunning(err))
	assert.Less(t, time.Since(begin), time.Second)

	require.NoError(t, first.Close())
	second, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestRunClosesAfterReporting(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lock.Enabled = false

	err := Run(context.Background(), cfg, func(ctx context.Context, inst *Instance) error {
		inst.Logger().Info("working")
		panic("boom")
	}, WithConsoleWriter(&bytes.Buffer{}))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, warden_err.ExitPanic, fault.ExitCode(err))
	assert.Nil(t, fault.Active())

	es := entries(t, cfg.LoggerConfig(nil).JSONPath())
	require.Len(t, es, 4)
	assert.Equal(t, "Application started", es[0].Message)
	assert.Equal(t, "working", es[1].Message)
	assert.Equal(t, "Uncaught fault in main", es[2].Message)
	assert.Equal(t, "Application stopped", es[3].Message)
}

func TestSignedStreamVerifies(t *testing.T) {
	cfg := testConfig(t)
	key := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(key, []byte("73656372657421"), 0o600))
	cfg.Signing = config.SigningConfig{Algorithm: signing.AlgBLAKE2b, KeyFile: key}

	inst, _ := start(t, cfg)
	inst.Logger().Info(`héllo "world"`)
	require.NoError(t, inst.Close())

	v, err := cfg.Verifier()
	require.NoError(t, err)
	res := record.VerifyFile(cfg.LoggerConfig(nil).JSONPath(), v, record.VerifyOptions{})
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 3, res.Signed)
}

func TestBadKeyDegradesToUnsigned(t *testing.T) {
	cfg := testConfig(t)
	key := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(key, []byte("not a key"), 0o600))
	cfg.Signing = config.SigningConfig{Algorithm: signing.AlgEd25519, KeyFile: key}

	inst, _ := start(t, cfg)
	require.NoError(t, inst.Close())

	es := entries(t, cfg.LoggerConfig(nil).JSONPath())
	warn := levels(es, "WARNING")
	require.Len(t, warn, 1)
	assert.Equal(t, "Signing key unusable, writing unsigned records", warn[0].Message)
	for _, e := range es {
		assert.Empty(t, e.Signature)
	}
}

func TestUnusableLogDirFallsBackToConsole(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Log.Dir = filepath.Join(blocker, "logs")

	inst, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	defer inst.Close()
	assert.Error(t, inst.Degraded())
	assert.Equal(t, record.DEBUG, inst.Logger().Level())
}

func TestWatchConfigChangesLevel(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "svc.yaml")
	body := "log:\n  dir: " + filepath.Join(dir, "logs") + "\n  level: %s\nlock:\n  dir: " + filepath.Join(dir, "run") + "\n"
	require.NoError(t, os.WriteFile(file, []byte(fmt.Sprintf(body, "INFO")), 0o600))

	ld, err := config.NewLoader(config.Options{Name: "svc", File: file})
	require.NoError(t, err)
	cfg, err := ld.Load()
	require.NoError(t, err)

	inst, _ := start(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	w, err := inst.WatchConfig(ctx, ld)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte(fmt.Sprintf(body, "ERROR")), 0o600))
	require.Eventually(t, func() bool { return inst.Logger().Level() == record.ERROR },
		5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, w.Wait())
}

func TestRuntimeCrashOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Crash.RuntimeOutput = true
	inst, _ := start(t, cfg)
	require.NoError(t, inst.Close())

	_, err := os.Stat(crash.RuntimePath(cfg.CrashPath()))
	assert.NoError(t, err)
}

func TestRunTracesToFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lock.Enabled = false
	cfg.Telemetry.TraceFile = filepath.Join(t.TempDir(), "traces.jsonl")

	err := Run(context.Background(), cfg, func(ctx context.Context, inst *Instance) error {
		return errors.New("no upstream")
	}, WithConsoleWriter(&bytes.Buffer{}))
	require.Error(t, err)

	data, err := os.ReadFile(cfg.Telemetry.TraceFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"`+cfg.Name+`.run"`)
	assert.Contains(t, string(data), "no upstream")
}

func TestFaultAfterCloseGoesToPreviousRegistry(t *testing.T) {
	core, outerLogs := observer.New(zapcore.DebugLevel)
	outer := fault.New(zap.New(core), nil).Install()
	defer outer.Restore()

	cfg := testConfig(t)
	inst, _ := start(t, cfg)
	require.NoError(t, inst.Close())
	assert.Same(t, outer, fault.Active())

	_ = fault.Go("late", func() { panic("after close") }).Wait()
	assert.Equal(t, 1, outerLogs.Len())

	es := entries(t, cfg.LoggerConfig(nil).JSONPath())
	require.NotEmpty(t, es)
	assert.Equal(t, "Application stopped", es[len(es)-1].Message)
}
