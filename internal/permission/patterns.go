// Package permission decides whether a tool call may run, consulting
// learned patterns and falling back to a human approval.
package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/logging"
)

// Kind names one of the three pattern lists.
type Kind string

const (
	KindAllow Kind = "allow"
	KindDeny  Kind = "deny"
	KindAsk   Kind = "ask"
)

// PatternSet holds glob rules of the form "tool" or "tool(argglob)".
type PatternSet struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
	Ask   []string `json:"ask"`
}

type document struct {
	Permissions PatternSet `json:"permissions"`
}

func (p PatternSet) Clone() PatternSet {
	return PatternSet{
		Allow: append([]string{}, p.Allow...),
		Deny:  append([]string{}, p.Deny...),
		Ask:   append([]string{}, p.Ask...),
	}
}

func (p *PatternSet) list(k Kind) *[]string {
	switch k {
	case KindAllow:
		return &p.Allow
	case KindDeny:
		return &p.Deny
	case KindAsk:
		return &p.Ask
	}
	return nil
}

// first returns the first pattern of kind k matching the call.
func (p PatternSet) first(k Kind, tool, argString string) (string, bool) {
	for _, pat := range *p.list(k) {
		if Match(pat, tool, argString) {
			return pat, true
		}
	}
	return "", false
}

// Verdict is what the pattern lists say about a call.
type Verdict int

const (
	// VerdictPrompt means no rule decided and a human must.
	VerdictPrompt Verdict = iota
	VerdictAllow
	VerdictDeny
)

// Evaluate checks deny, then ask, then allow. An ask rule wins over an
// allow rule so a broad allow can still be narrowed.
func (p PatternSet) Evaluate(tool string, args map[string]any) (Verdict, string) {
	s := ArgString(args)
	if pat, ok := p.first(KindDeny, tool, s); ok {
		return VerdictDeny, pat
	}
	if pat, ok := p.first(KindAsk, tool, s); ok {
		return VerdictPrompt, pat
	}
	if pat, ok := p.first(KindAllow, tool, s); ok {
		return VerdictAllow, pat
	}
	return VerdictPrompt, ""
}

var (
	globCacheMu sync.Mutex
	globCache   = map[string]glob.Glob{}
)

func compile(pattern string) (glob.Glob, error) {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()
	if g, ok := globCache[pattern]; ok {
		return g, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	globCache[pattern] = g
	return g, nil
}

// Match reports whether pattern covers the call. The tool part is a glob
// over the tool name. The optional argument part may match anywhere inside
// the stringified arguments; "(*)" accepts any arguments.
func Match(pattern, tool, argString string) bool {
	toolPat, argPat, hasArgs := strings.Cut(pattern, "(")
	g, err := compile(strings.TrimSpace(toolPat))
	if err != nil || !g.Match(tool) {
		return false
	}
	if !hasArgs {
		return true
	}
	argPat = strings.TrimSuffix(argPat, ")")
	if argPat == "*" {
		return true
	}
	ag, err := compile("*" + argPat + "*")
	if err != nil {
		return false
	}
	return ag.Match(argString)
}

// ArgString renders arguments deterministically (sorted keys) for matching.
func ArgString(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}

// FileFor returns the pattern file for a workspace, keyed by the hash of
// its resolved path.
func FileFor(dataDir, workspace string) string {
	resolved := workspace
	if abs, err := filepath.Abs(workspace); err == nil {
		resolved = abs
	}
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}
	sum := sha256.Sum256([]byte(resolved))
	return filepath.Join(dataDir, "permissions", hex.EncodeToString(sum[:])+".json")
}

// Store is the persisted PatternSet. One mutex guards every
// load-modify-write.
type Store struct {
	mu   sync.Mutex
	path string
	set  PatternSet
	log  *logging.Logger
}

// Open loads the pattern file at path. A missing file is an empty set.
func Open(path string) (*Store, error) {
	s := &Store{path: path, log: logging.New("permission")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore(set PatternSet) *Store {
	return &Store{set: set.Clone(), log: logging.New("permission")}
}

func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current patterns.
func (s *Store) Snapshot() PatternSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Clone()
}

func (s *Store) Evaluate(tool string, args map[string]any) (Verdict, string) {
	return s.Snapshot().Evaluate(tool, args)
}

// Reload replaces the in-memory set with the file contents.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.set = PatternSet{}.Clone()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read patterns: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.set = doc.Permissions.Clone()
	return nil
}

// Add appends pattern to the k list and persists it. A pattern already
// present is left alone and Add reports false.
func (s *Store) Add(k Kind, pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false, errors.New("empty pattern")
	}
	toolPat, _, _ := strings.Cut(pattern, "(")
	if _, err := compile(strings.TrimSpace(toolPat)); err != nil {
		return false, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		s.log.Warn("reload before add failed, keeping memory copy", zap.Error(err))
	}
	list := s.set.list(k)
	if list == nil {
		return false, fmt.Errorf("unknown pattern kind %q", k)
	}
	if slices.Contains(*list, pattern) {
		return false, nil
	}
	*list = append(*list, pattern)
	if err := s.saveLocked(); err != nil {
		*list = (*list)[:len(*list)-1]
		return false, err
	}
	s.log.Info("pattern added", zap.String("kind", string(k)), zap.String("pattern", pattern))
	return true, nil
}

// saveLocked writes the set through a temp file and rename so readers
// never see a partial document.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pattern dir: %w", err)
	}
	data, err := json.MarshalIndent(document{Permissions: s.set}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".patterns-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write patterns: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace pattern file: %w", err)
	}
	return nil
}
