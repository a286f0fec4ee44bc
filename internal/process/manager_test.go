package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/codecrew/internal/runtime"
)

func startOpts(t *testing.T, command string) StartOptions {
	t.Helper()
	return StartOptions{
		Command:     command,
		Dir:         t.TempDir(),
		LogDir:      filepath.Join(t.TempDir(), "logs", "processes"),
		StartupWait: 300 * time.Millisecond,
	}
}

func TestLogFileName(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, "proc_1700000000_npm_run_dev.log", LogFileName("npm run dev", now))
	assert.Equal(t, "proc_1700000000_python__m_http_serve.log", LogFileName("python -m http.server 8000", now))
}

func TestStart_LongRunningIsRegistered(t *testing.T) {
	m := NewManager()
	t.Cleanup(func() { _ = m.KillAll(context.Background()) })

	res, err := m.Start(context.Background(), startOpts(t, "echo ready; sleep 30"))
	require.NoError(t, err)
	require.True(t, res.Detached)

	rec, ok := m.Get(res.PID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, "echo ready; sleep 30", rec.Command)

	active := m.ListActive(context.Background())
	require.Len(t, active, 1)
	assert.Equal(t, res.PID, active[0].PID)

	lines, path, err := m.TailLog(res.PID, 5)
	require.NoError(t, err)
	assert.Equal(t, res.LogFile, path)
	assert.Equal(t, []string{"ready"}, lines)
}

func TestStart_ImmediateFailure(t *testing.T) {
	m := NewManager()
	_, err := m.Start(context.Background(), startOpts(t, "echo broken >&2; exit 3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, m.ListActive(context.Background()))
}

func TestStart_ImmediateSuccessWithoutOutputRemovesLog(t *testing.T) {
	m := NewManager()
	opts := startOpts(t, "true")
	res, err := m.Start(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.Empty(t, res.LogFile)

	entries, err := os.ReadDir(opts.LogDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStart_ImmediateSuccessKeepsOutput(t *testing.T) {
	m := NewManager()
	res, err := m.Start(context.Background(), startOpts(t, "echo done"))
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.Equal(t, "done\n", res.Output)
	assert.FileExists(t, res.LogFile)
}

func TestListActive_PrunesExited(t *testing.T) {
	m := NewManager()
	res, err := m.Start(context.Background(), startOpts(t, "sleep 0.6"))
	require.NoError(t, err)
	require.True(t, res.Detached)

	assert.Eventually(t, func() bool {
		return len(m.ListActive(context.Background())) == 0
	}, 5*time.Second, 100*time.Millisecond)

	_, ok := m.Get(res.PID)
	assert.False(t, ok, "record should be pruned by ListActive")
}

func TestKill_RemovesTree(t *testing.T) {
	var gauge []int
	m := NewManager(WithActiveGauge(func(n int) { gauge = append(gauge, n) }))

	res, err := m.Start(context.Background(), startOpts(t, "sleep 30 & sleep 30 & wait"))
	require.NoError(t, err)

	require.NoError(t, m.Kill(context.Background(), res.PID))
	_, ok := m.Get(res.PID)
	assert.False(t, ok)
	assert.Equal(t, []int{1, 0}, gauge)

	assert.Eventually(t, func() bool {
		return !alive(context.Background(), res.PID)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestKill_Untracked(t *testing.T) {
	m := NewManager()
	err := m.Kill(context.Background(), 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func unrelatedSleep(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestKillAll_SkipsExitedRecords(t *testing.T) {
	var gauge []int
	m := NewManager(WithActiveGauge(func(n int) { gauge = append(gauge, n) }))
	other := unrelatedSleep(t)

	m.Register(other.Process.Pid, "sleep 1", "")
	m.markExited(other.Process.Pid)

	require.NoError(t, m.KillAll(context.Background()))
	_, ok := m.Get(other.Process.Pid)
	assert.False(t, ok)
	assert.Equal(t, []int{1, 0}, gauge)
	assert.NoError(t, other.Process.Signal(syscall.Signal(0)), "reused pid must not be signalled")
}

func TestKill_ExitedRecordIsNotSignalled(t *testing.T) {
	m := NewManager()
	other := unrelatedSleep(t)

	m.Register(other.Process.Pid, "sleep 1", "")
	m.markExited(other.Process.Pid)

	err := m.Kill(context.Background(), other.Process.Pid)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, ok := m.Get(other.Process.Pid)
	assert.False(t, ok)
	assert.NoError(t, other.Process.Signal(syscall.Signal(0)))
}

func TestShutdownHookKillsEverything(t *testing.T) {
	m := NewManager()
	sm := runtime.NewShutdownManager(5 * time.Second)
	m.RegisterShutdown(sm)

	for i := 0; i < 2; i++ {
		_, err := m.Start(context.Background(), startOpts(t, "sleep 30"))
		require.NoError(t, err)
	}
	require.Len(t, m.ListActive(context.Background()), 2)

	require.NoError(t, sm.Shutdown())
	assert.Empty(t, m.ListActive(context.Background()))
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		b.WriteString("line ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("\n")
	}
	b.WriteString("last\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	lines, err := TailFile(path, 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "last", lines[2])

	all, err := TailFile(path, 5000)
	require.NoError(t, err)
	assert.Len(t, all, 2001)

	_, err = TailFile(filepath.Join(t.TempDir(), "missing.log"), 3)
	assert.Error(t, err)
}
