package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
)

// JSONLSink appends every event to a per-day file
// <dir>/tool_events_<YYYY-MM-DD>.jsonl.
type JSONLSink struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
	log  *logging.Logger
}

func NewJSONLSink(dir string) *JSONLSink {
	return &JSONLSink{dir: dir, now: time.Now, log: logging.New("event.jsonl")}
}

// PathFor returns the log file used for events on day t.
func (s *JSONLSink) PathFor(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("tool_events_%s.jsonl", t.Format("2006-01-02")))
}

// Handle never fails the caller; write errors are logged.
func (s *JSONLSink) Handle(ev domain.ToolEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		line, _ = json.Marshal(map[string]string{
			"event_type": string(ev.Kind),
			"error":      "Failed to serialize event payload",
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileFor(s.now())
	if err != nil {
		s.log.Warn("event log unavailable", zap.Error(err))
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.log.Warn("event log write failed", zap.Error(err))
	}
}

func (s *JSONLSink) fileFor(t time.Time) (*os.File, error) {
	day := t.Format("2006-01-02")
	if s.file != nil && s.day == day {
		return s.file, nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.PathFor(t), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.file, s.day = f, day
	return f, nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
