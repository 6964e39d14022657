package fault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/crash"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/loop"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// These tests share the process-wide registry and so do not run in parallel.

type fixture struct {
	reg      *Registry
	logs     *observer.ObservedLogs
	recorder *crash.Recorder
}

func install(t *testing.T) fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	rec := crash.New(filepath.Join(t.TempDir(), crash.FileName))
	reg := New(zap.New(core), rec).Install()
	t.Cleanup(func() { require.NoError(t, reg.Restore()) })
	return fixture{reg: reg, logs: logs, recorder: rec}
}

func (f fixture) critical() []observer.LoggedEntry {
	return f.logs.FilterLevelExact(record.CRITICAL.Zap()).All()
}

func (f fixture) crashText(t *testing.T) string {
	t.Helper()
	data, err := f.recorder.Read()
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestWorkerPanicIsReported(t *testing.T) {
	fx := install(t)

	w := Go("pump", func() {
		var m map[string]int
		m["x"] = 1
	})
	err := w.Wait()

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "worker:pump", fe.Fault.Context)
	assert.Equal(t, "runtime.Error", fe.Fault.Kind)
	assert.Equal(t, warden_err.ExitPanic, ExitCode(err))

	entries := fx.critical()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "worker:pump")
	assert.Contains(t, entries[0].ContextMap(), record.FaultKey)

	text := fx.crashText(t)
	assert.Contains(t, text, "runtime.Error")
	assert.Contains(t, text, "assignment to entry in nil map")
	assert.Contains(t, text, "TestWorkerPanicIsReported")
}

func TestWorkerWithoutPanic(t *testing.T) {
	fx := install(t)
	ran := false
	assert.NoError(t, Go("quiet", func() { ran = true }).Wait())
	assert.True(t, ran)
	assert.Empty(t, fx.critical())
	assert.Empty(t, fx.crashText(t))
}

func TestInstallTwiceReportsOnce(t *testing.T) {
	fx := install(t)
	fx.reg.Install()
	fx.reg.Install()
	assert.True(t, fx.reg.Installed())

	_ = Go("dup", func() { panic("once") }).Wait()
	assert.Len(t, fx.critical(), 1)
}

func TestRestoreBringsBackPrevious(t *testing.T) {
	outer := install(t)

	core, innerLogs := observer.New(zapcore.DebugLevel)
	inner := New(zap.New(core), nil).Install()
	assert.Same(t, inner, Active())

	_ = Go("inner", func() { panic("to inner") }).Wait()
	assert.Equal(t, 1, innerLogs.Len())
	assert.Empty(t, outer.critical())

	require.NoError(t, inner.Restore())
	require.NoError(t, inner.Restore())
	assert.False(t, inner.Installed())
	assert.Same(t, outer.reg, Active())

	_ = Go("outer", func() { panic("to outer") }).Wait()
	assert.Len(t, outer.critical(), 1)
	assert.Equal(t, 1, innerLogs.Len())
}

func TestRestoreOutOfOrder(t *testing.T) {
	base := install(t)

	first := New(nil, nil).Install()
	second := New(nil, nil).Install()
	require.NoError(t, first.Restore())
	assert.Same(t, second, Active())

	require.NoError(t, second.Restore())
	assert.Same(t, base.reg, Active())
	assert.False(t, first.Installed())
	assert.False(t, second.Installed())

	_ = Go("after", func() { panic("to base") }).Wait()
	assert.Len(t, base.critical(), 1)
}

func TestRunReportsMainPanic(t *testing.T) {
	fx := install(t)

	err := Run(context.Background(), func(context.Context) error {
		panic(errors.New("main exploded"))
	})

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "main", fe.Fault.Context)
	require.Len(t, fx.critical(), 1)
	assert.Contains(t, fx.crashText(t), "main exploded")
}

func TestRunPassesErrorsThrough(t *testing.T) {
	fx := install(t)
	sentinel := errors.New("ordinary failure")

	err := Run(context.Background(), func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, warden_err.ExitFailure, ExitCode(err))
	assert.Empty(t, fx.critical())
}

func TestInterruptPanicIsNotAFault(t *testing.T) {
	fx := install(t)

	err := Run(context.Background(), func(context.Context) error {
		panic(ErrInterrupted)
	})
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, warden_err.ExitInterrupted, ExitCode(err))

	err = Go("stopper", func() { panic(ErrInterrupted) }).Wait()
	assert.ErrorIs(t, err, ErrInterrupted)

	assert.Zero(t, fx.logs.Len())
	assert.Empty(t, fx.crashText(t))
}

func TestReportWithoutLogger(t *testing.T) {
	rec := crash.New(filepath.Join(t.TempDir(), crash.FileName))
	reg := New(nil, rec).Install()
	defer reg.Restore()

	_ = Go("nolog", func() { panic("still recorded") }).Wait()

	data, err := rec.Read()
	require.NoError(t, err)
	assert.Contains(t, string(data), "still recorded")
}

func TestObserverSeesFaults(t *testing.T) {
	var seen []string
	reg := New(nil, nil, WithObserver(func(f *record.Fault) { seen = append(seen, f.Context) })).Install()
	defer reg.Restore()

	_ = Go("watched", func() { panic("x") }).Wait()
	assert.Equal(t, []string{"worker:watched"}, seen)
}

func TestLoopFaultsReported(t *testing.T) {
	fx := install(t)

	l := loop.New(loop.WithName("jobs"))
	require.NoError(t, fx.reg.InstallLoop(l))
	require.NoError(t, fx.reg.InstallLoop(l))

	l.Spawn("lost", func(context.Context) error { panic("task blew up") })
	l.Spawn("cancelled", func(context.Context) error { return context.Canceled })
	l.Spawn("interrupted", func(context.Context) error { return ErrInterrupted })
	l.Spawn("stop", func(context.Context) error { l.Stop(); return nil })
	require.NoError(t, l.Run(context.Background()))

	entries := fx.critical()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "task:lost")
	assert.Contains(t, fx.crashText(t), "task blew up")
}

func TestInstallLoopWhileRunning(t *testing.T) {
	fx := install(t)

	l := loop.New(loop.WithName("busy"))
	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()
	require.Eventually(t, l.Running, time.Second, time.Millisecond)

	err := fx.reg.InstallLoop(l)
	assert.ErrorIs(t, err, loop.ErrRunning)

	warnings := fx.logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "busy", warnings[0].ContextMap()["loop"])

	l.Stop()
	require.NoError(t, <-errc)
}

func TestRestoreResetsLoopHandler(t *testing.T) {
	l := loop.New()
	var prevCalled bool
	prev := func(*loop.Loop, loop.FaultContext) { prevCalled = true }
	require.NoError(t, l.SetFaultHandler(prev))

	reg := New(nil, nil).Install()
	require.NoError(t, reg.InstallLoop(l))
	require.NoError(t, reg.Restore())
	assert.Nil(t, Active())

	l.Spawn("fail", func(context.Context) error { return errors.New("x") })
	l.Spawn("stop", func(context.Context) error { l.Stop(); return nil })
	require.NoError(t, l.Run(context.Background()))
	assert.True(t, prevCalled)
}

func TestSetCrashOutput(t *testing.T) {
	reg := New(nil, nil).Install()
	path := filepath.Join(t.TempDir(), "runtime", "last_crash.runtime.log")
	require.NoError(t, reg.SetCrashOutput(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
	require.NoError(t, reg.Restore())
}
