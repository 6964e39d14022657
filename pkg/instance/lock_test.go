package instance

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "WARDEN_LOCK_HELPER_DIR"

// TestLockHelperProcess is not a real test: it holds a lock until killed.
func TestLockHelperProcess(t *testing.T) {
	dir := os.Getenv(helperEnv)
	if dir == "" {
		t.Skip("helper process only")
	}
	if _, err := Acquire("killed-holder", 0, WithDir(dir)); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Println("ready")
	time.Sleep(time.Minute)
	os.Exit(0)
}

func TestAcquireTwiceIsAlreadyHeld(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := Acquire("app", 0, WithDir(dir))
	require.NoError(t, err)
	defer first.Release()
	assert.True(t, first.IsHeld())

	start := time.Now()
	second, err := Acquire("app", 0, WithDir(dir))
	elapsed := time.Since(start)

	assert.Nil(t, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, warden_err.ErrAlreadyHeld)
	assert.True(t, IsAlreadyRunning(err))
	assert.Less(t, elapsed, time.Second)
}

func TestAcquireTimeout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	holder, err := Acquire("slow", 0, WithDir(dir))
	require.NoError(t, err)
	defer holder.Release()

	start := time.Now()
	_, err = Acquire("slow", 150*time.Millisecond, WithDir(dir))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, warden_err.ErrLockTimeout)
	assert.False(t, IsAlreadyRunning(err))
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	holder, err := Acquire("handoff", 0, WithDir(dir))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = holder.Release()
	}()

	next, err := Acquire("handoff", 5*time.Second, WithDir(dir))
	require.NoError(t, err)
	assert.NoError(t, next.Release())
}

func TestAcquireContextCancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	holder, err := Acquire("cancel", 0, WithDir(dir))
	require.NoError(t, err)
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = AcquireContext(ctx, "cancel", time.Minute, WithDir(dir))
	assert.ErrorIs(t, err, warden_err.ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	l, err := Acquire("idem", 0, WithDir(dir))
	require.NoError(t, err)
	assert.NoError(t, l.Release())
	assert.NoError(t, l.Release())
	assert.False(t, l.IsHeld())

	// The same token can be taken again after release.
	require.NoError(t, l.Acquire(context.Background(), 0))
	assert.True(t, l.IsHeld())
	assert.NoError(t, l.Release())
}

func TestLockFreedWhenHolderKilled(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a helper process")
	}
	dir := t.TempDir()

	cmd := exec.Command(os.Args[0], "-test.run=^TestLockHelperProcess$")
	cmd.Env = append(os.Environ(), helperEnv+"="+dir)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)

	_, err = Acquire("killed-holder", 0, WithDir(dir))
	require.ErrorIs(t, err, warden_err.ErrAlreadyHeld)

	st, err := Probe(context.Background(), "killed-holder", WithDir(dir))
	require.NoError(t, err)
	assert.True(t, st.Held)

	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	l, err := Acquire("killed-holder", 5*time.Second, WithDir(dir))
	require.NoError(t, err)
	assert.NoError(t, l.Release())
}

func TestProbeFreeLock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := Probe(context.Background(), "free", WithDir(dir))
	require.NoError(t, err)
	assert.False(t, st.Held)

	// Probing must not leave the lock taken.
	l, err := Acquire("free", 0, WithDir(dir))
	require.NoError(t, err)
	defer l.Release()

	st, err = Probe(context.Background(), "free", WithDir(dir))
	require.NoError(t, err)
	assert.True(t, st.Held)
}

func TestRewrittenNamesDoNotCollide(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	slash, err := Acquire("svc/a", 0, WithDir(dir))
	require.NoError(t, err)
	defer slash.Release()

	under, err := Acquire("svc_a", 0, WithDir(dir))
	require.NoError(t, err)
	defer under.Release()
	assert.True(t, under.IsHeld())
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		prefix string
		exact  bool
	}{
		{"app", "app", true},
		{"  svc.prod-1  ", "svc.prod-1", true},
		{"", "", true},
		{"my app/v2", "my_app_v2-", false},
		{`..\evil`, ".._evil-", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := sanitize(tt.in)
			if tt.exact {
				assert.Equal(t, tt.prefix, got)
				return
			}
			assert.True(t, strings.HasPrefix(got, tt.prefix), got)
			assert.Len(t, got, len(tt.prefix)+8)
			assert.Equal(t, got, sanitize(tt.in))
		})
	}
	assert.NotEqual(t, sanitize("svc/a"), sanitize("svc_a"))

	_, err := New("   ")
	assert.ErrorIs(t, err, warden_err.ErrMissingField)
}
