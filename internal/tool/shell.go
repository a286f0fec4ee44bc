package tool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/process"
	"github.com/joss/codecrew/internal/workspace"
)

const (
	DefaultShellTimeout = 60 * time.Second
	maxShellTimeout     = 10 * time.Minute
	readerGrace         = time.Second
)

// Shell runs commands inside the workspace, either blocking with streamed
// output or detached in the background.
type Shell struct {
	sb      *workspace.Sandbox
	procs   *process.Manager
	events  event.Publisher
	timeout time.Duration
	startup time.Duration // background startup window, 0 for the default
}

func NewShell(sb *workspace.Sandbox, procs *process.Manager, events event.Publisher, timeout time.Duration) *Shell {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &Shell{sb: sb, procs: procs, events: events, timeout: timeout}
}

func (s *Shell) Info() Info {
	return Info{
		Name: "shell",
		Description: "Run a shell command in the workspace. Use background=true for servers and watchers; " +
			"their output goes to a log file managed with process_manager.",
		Parameters: object(map[string]any{
			"command":    prop("string", "Command to run with bash -c"),
			"cwd":        prop("string", "Working directory relative to the workspace root (default .)"),
			"timeout":    prop("integer", "Timeout in seconds (default 60). Ignored for background commands."),
			"background": prop("boolean", "Run detached and return immediately"),
			"auto_yes":   prop("boolean", "Answer 'y' on stdin"),
		}, "command"),
		// The command enforces its own deadline; this only guards the wrapper.
		Timeout: maxShellTimeout + 30*time.Second,
	}
}

func (s *Shell) Execute(ctx context.Context, args map[string]any) (Output, error) {
	command, err := requireString(args, "command")
	if err != nil {
		return Output{}, err
	}
	cwd := stringOr(args, "cwd", ".")
	dir, err := s.sb.Resolve(cwd)
	if err != nil {
		return Output{}, err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Output{}, fmt.Errorf("working directory not found: %s", cwd)
	}
	autoYes := boolArg(args, "auto_yes")

	if boolArg(args, "background") {
		return s.background(ctx, command, dir, autoYes)
	}

	secs, err := intArg(args, "timeout", int(s.timeout.Seconds()))
	if err != nil {
		return Output{}, err
	}
	timeout := time.Duration(secs) * time.Second
	if timeout <= 0 {
		timeout = s.timeout
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	return s.blocking(ctx, command, dir, autoYes, timeout)
}

func (s *Shell) background(ctx context.Context, command, dir string, autoYes bool) (Output, error) {
	if s.procs == nil {
		return Output{}, errors.New("background processes are not available")
	}
	res, err := s.procs.Start(ctx, process.StartOptions{
		Command:     command,
		Dir:         dir,
		LogDir:      filepath.Join(s.sb.Root(), "logs", "processes"),
		AutoYes:     autoYes,
		StartupWait: s.startup,
	})
	if err != nil {
		return Output{}, err
	}
	switch {
	case res.Exited && res.LogFile == "":
		return Text("Command finished immediately (Code 0). No output, log file removed."), nil
	case res.Exited:
		return Text(fmt.Sprintf("Command finished immediately (Code 0). Output saved to: %s", s.sb.Rel(res.LogFile))), nil
	default:
		return Text(fmt.Sprintf("Command started in background.\nPID: %d\n"+
			"Manage: Use 'process_manager' tool (action='list', action='kill', action='logs' for PID %d) for control.",
			res.PID, res.PID)), nil
	}
}

func (s *Shell) blocking(ctx context.Context, command, dir string, autoYes bool, timeout time.Duration) (Output, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return Output{}, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return Output{}, err
	}

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if autoYes {
		cmd.Stdin = strings.NewReader("y\n")
	}

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return Output{}, fmt.Errorf("start command: %w", err)
	}
	// The child holds its own copies; ours must close so readers see EOF.
	stdoutW.Close()
	stderrW.Close()

	var stdout, stderr []string
	var readers sync.WaitGroup
	readers.Add(2)
	go s.stream(ctx, &readers, stdoutR, "stdout", &stdout)
	go s.stream(ctx, &readers, stderrR, "stderr", &stderr)

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waited:
		joinReaders(&readers, 2*readerGrace, stdoutR, stderrR)
	case <-timer.C:
		_ = process.KillTree(context.Background(), cmd.Process.Pid)
		<-waited
		joinReaders(&readers, readerGrace, stdoutR, stderrR)
		return Output{}, fmt.Errorf("command timed out (%ds): %s", int(timeout.Seconds()), command)
	case <-ctx.Done():
		_ = process.KillTree(context.Background(), cmd.Process.Pid)
		<-waited
		joinReaders(&readers, readerGrace, stdoutR, stderrR)
		return Output{}, ctx.Err()
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Output{}, fmt.Errorf("command execution error: %w", waitErr)
		}
		code = exitErr.ExitCode()
	}

	stdoutText := strings.Join(stdout, "\n")
	stderrText := strings.Join(stderr, "\n")
	if code != 0 {
		msg := stderrText
		if msg == "" {
			msg = stdoutText
		}
		return Output{}, fmt.Errorf("command failed (code %d):\n%s", code, msg)
	}

	lines := []string{
		"Command: " + command,
		"Working Dir: " + s.sb.Rel(dir),
		fmt.Sprintf("Return Code: %d", code),
		"",
	}
	if stdoutText != "" {
		lines = append(lines, "─── STDOUT ───", stdoutText)
	}
	if stderrText != "" {
		lines = append(lines, "─── STDERR ───", stderrText)
	}
	return Text(strings.Join(lines, "\n")), nil
}

// stream collects lines from r and publishes each as an output_line event.
func (s *Shell) stream(ctx context.Context, wg *sync.WaitGroup, r io.Reader, name string, into *[]string) {
	defer wg.Done()
	eachLine(r, maxLineBytes, func(line string) {
		*into = append(*into, line)
		if s.events != nil {
			s.events.Publish(domain.ToolEvent{
				Kind:   domain.EventOutputLine,
				Tool:   "shell",
				CallID: event.CallIDFrom(ctx),
				Worker: event.WorkerFrom(ctx),
				Stream: name,
				Line:   line,
			})
		}
	})
}

// maxLineBytes caps a single streamed line; the remainder is discarded.
const maxLineBytes = 1024 * 1024

// eachLine calls fn for every line in r until EOF or a read error. Lines
// longer than limit are truncated but the reader keeps consuming, so the
// writer never blocks on a full pipe.
func eachLine(r io.Reader, limit int, fn func(string)) {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	partial := false
	for {
		frag, more, err := br.ReadLine()
		if len(frag) > 0 || more {
			partial = true
		}
		if room := limit - len(buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}
		if err != nil {
			if partial {
				fn(string(buf))
			}
			return
		}
		if !more {
			fn(string(buf))
			buf = buf[:0]
			partial = false
		}
	}
}

// joinReaders waits for both readers up to grace, then closes the read
// ends so a reader stuck on an inherited pipe returns.
func joinReaders(wg *sync.WaitGroup, grace time.Duration, files ...*os.File) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		for _, f := range files {
			f.Close()
		}
		<-done
	}
	for _, f := range files {
		f.Close()
	}
}
