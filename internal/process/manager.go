// Package process tracks background commands and guarantees they are
// killed when the host shuts down.
package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/runtime"
)

var (
	ErrNotFound   = errors.New("process not tracked")
	ErrNotRunning = errors.New("process already exited")
)

const (
	StatusRunning = "running"
	StatusExited  = "exited"
)

// Record describes one tracked background command.
type Record struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	LogFile   string    `json:"log_file"`
	StartTime time.Time `json:"start_time"`
	Status    string    `json:"status"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithActiveGauge reports the tracked-process count after every change.
func WithActiveGauge(fn func(n int)) Option {
	return func(m *Manager) { m.gauge = fn }
}

// WithLogger overrides the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager is the sole owner of process records. A single mutex guards
// every register/prune/kill.
type Manager struct {
	mu    sync.Mutex
	procs map[int]*Record
	gauge func(n int)
	log   *logging.Logger
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		procs: make(map[int]*Record),
		log:   logging.New("process"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterShutdown kills every tracked process when sm shuts down.
func (m *Manager) RegisterShutdown(sm *runtime.ShutdownManager) {
	sm.Register("background processes", m.KillAll)
}

// Register starts tracking pid.
func (m *Manager) Register(pid int, command, logFile string) Record {
	rec := &Record{
		PID:       pid,
		Command:   command,
		LogFile:   logFile,
		StartTime: time.Now(),
		Status:    StatusRunning,
	}
	m.mu.Lock()
	m.procs[pid] = rec
	n := len(m.procs)
	m.mu.Unlock()

	m.report(n)
	m.log.Info("process registered", zap.Int("pid", pid), zap.String("command", command))
	return *rec
}

// Get returns the record for pid, whether or not it is still alive.
func (m *Manager) Get(pid int) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.procs[pid]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ListActive returns live processes ordered by start time. Records whose
// PID is gone or is a zombie are pruned.
func (m *Manager) ListActive(ctx context.Context) []Record {
	m.mu.Lock()
	var active []Record
	pruned := 0
	for pid, rec := range m.procs {
		if rec.Status != StatusRunning || !alive(ctx, pid) {
			delete(m.procs, pid)
			pruned++
			continue
		}
		active = append(active, *rec)
	}
	n := len(m.procs)
	m.mu.Unlock()

	if pruned > 0 {
		m.report(n)
		m.log.Debug("pruned dead processes", zap.Int("count", pruned))
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartTime.Before(active[j].StartTime) })
	return active
}

// Kill terminates pid and all of its descendants, children first, and
// forgets the record.
func (m *Manager) Kill(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.procs[pid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, pid)
	}
	// A reaped PID may already belong to an unrelated process.
	if rec.Status != StatusRunning {
		delete(m.procs, pid)
		m.reportLocked()
		return fmt.Errorf("%w: %d", ErrNotRunning, pid)
	}
	err := killTree(ctx, pid)
	delete(m.procs, pid)
	m.reportLocked()
	if err != nil {
		m.log.Warn("kill failed", zap.Int("pid", pid), zap.Error(err))
		return err
	}
	m.log.Info("process killed", zap.Int("pid", pid))
	return nil
}

// KillAll terminates every tracked process still running and forgets the
// exited ones. It is the shutdown hook.
func (m *Manager) KillAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for pid, rec := range m.procs {
		if rec.Status != StatusRunning {
			delete(m.procs, pid)
			continue
		}
		if err := killTree(ctx, pid); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
		delete(m.procs, pid)
	}
	m.reportLocked()
	return errors.Join(errs...)
}

func (m *Manager) markExited(pid int) {
	m.mu.Lock()
	if rec, ok := m.procs[pid]; ok {
		rec.Status = StatusExited
	}
	m.mu.Unlock()
}

func (m *Manager) report(n int) {
	if m.gauge != nil {
		m.gauge(n)
	}
}

func (m *Manager) reportLocked() {
	m.report(len(m.procs))
}

func alive(ctx context.Context, pid int) bool {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// KillTree kills pid's descendants depth-first, then pid itself, without
// consulting the registry. A process that already exited is not an error.
func KillTree(ctx context.Context, pid int) error {
	return killTree(ctx, pid)
}

func killTree(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	var errs []error
	for _, child := range descendants(ctx, p) {
		if err := child.KillWithContext(ctx); err != nil && stillRunning(ctx, child) {
			errs = append(errs, err)
		}
	}
	if err := p.KillWithContext(ctx); err != nil && stillRunning(ctx, p) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// descendants returns the tree below p, deepest first.
func descendants(ctx context.Context, p *process.Process) []*process.Process {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, descendants(ctx, c)...)
		out = append(out, c)
	}
	return out
}

func stillRunning(ctx context.Context, p *process.Process) bool {
	running, err := p.IsRunningWithContext(ctx)
	return err == nil && running
}
