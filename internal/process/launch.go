package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultStartupWait is how long Start watches a new process for an early exit.
const DefaultStartupWait = 2 * time.Second

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// StartOptions describes a background launch.
type StartOptions struct {
	Command     string
	Dir         string
	LogDir      string
	AutoYes     bool
	StartupWait time.Duration
}

// StartResult reports what happened during the startup window.
type StartResult struct {
	PID      int
	LogFile  string // empty when an empty log was removed
	Exited   bool   // finished with code 0 inside the window
	Output   string // log content when Exited
	Detached bool   // still running and registered
}

// LogFileName builds proc_<unix>_<sanitized first 20 chars>.log.
func LogFileName(command string, now time.Time) string {
	prefix := command
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}
	return fmt.Sprintf("proc_%d_%s.log", now.Unix(), unsafeChars.ReplaceAllString(prefix, "_"))
}

// Start launches a shell command in the background with its output
// redirected to a log file. A non-zero exit inside the startup window is
// an error carrying the log; otherwise a still-running process is
// registered.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("empty command")
	}
	wait := opts.StartupWait
	if wait <= 0 {
		wait = DefaultStartupWait
	}
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logPath := filepath.Join(opts.LogDir, LogFileName(opts.Command, time.Now()))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	// Not bound to ctx: the process must outlive the tool call.
	cmd := exec.Command("bash", "-c", opts.Command)
	cmd.Dir = opts.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if opts.AutoYes {
		cmd.Stdin = strings.NewReader("y\n")
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start background command: %w", err)
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		logFile.Close()
		m.markExited(pid)
		exited <- err
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-exited:
		return finishedEarly(pid, logPath, err)
	case <-ctx.Done():
		_ = killTree(context.Background(), pid)
		return nil, ctx.Err()
	case <-timer.C:
	}

	// Register before re-checking so the wait goroutine can mark it exited.
	m.Register(pid, opts.Command, logPath)
	select {
	case err := <-exited:
		m.mu.Lock()
		delete(m.procs, pid)
		m.reportLocked()
		m.mu.Unlock()
		return finishedEarly(pid, logPath, err)
	default:
	}

	m.log.Info("background command started", zap.Int("pid", pid), zap.String("log", logPath))
	return &StartResult{PID: pid, LogFile: logPath, Detached: true}, nil
}

func finishedEarly(pid int, logPath string, waitErr error) (*StartResult, error) {
	data, readErr := os.ReadFile(logPath)
	output := string(data)
	if readErr != nil {
		output = "(Log file not created)"
	}

	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, fmt.Errorf("background command failed immediately (code %d):\n%s", code, output)
	}

	res := &StartResult{PID: pid, Exited: true, Output: output, LogFile: logPath}
	if output == "" {
		_ = os.Remove(logPath)
		res.LogFile = ""
	}
	return res, nil
}
