package permission

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		tool    string
		args    map[string]any
		want    bool
	}{
		{"shell(git *)", "shell", map[string]any{"command": "git status"}, true},
		{"shell(git *)", "shell", map[string]any{"command": "rm -rf /"}, false},
		{"shell(git *)", "read_file", map[string]any{"command": "git status"}, false},
		{"read_file", "read_file", map[string]any{"path": "a.go"}, true},
		{"read_*", "read_file", nil, true},
		{"*", "delete_path", nil, true},
		{"write_file(*)", "write_file", map[string]any{"path": "x"}, true},
		{"write_file(*.go*)", "write_file", map[string]any{"path": "main.go"}, true},
		{"write_file(*.go\"*)", "write_file", map[string]any{"path": "main.py"}, false},
		{"shell(npm test)", "shell", map[string]any{"command": "npm test -- --watch"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.tool, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.tool, ArgString(tt.args)))
		})
	}
}

func TestArgString_Deterministic(t *testing.T) {
	a := ArgString(map[string]any{"b": 1, "a": "x"})
	assert.Equal(t, `{"a":"x","b":1}`, a)
	assert.Equal(t, "{}", ArgString(nil))
}

func TestEvaluate_Precedence(t *testing.T) {
	set := PatternSet{
		Allow: []string{"shell"},
		Deny:  []string{"shell(rm *)"},
		Ask:   []string{"shell(git push*)"},
	}

	v, pat := set.Evaluate("shell", map[string]any{"command": "rm -rf build"})
	assert.Equal(t, VerdictDeny, v)
	assert.Equal(t, "shell(rm *)", pat)

	v, _ = set.Evaluate("shell", map[string]any{"command": "git push origin"})
	assert.Equal(t, VerdictPrompt, v)

	v, pat = set.Evaluate("shell", map[string]any{"command": "ls"})
	assert.Equal(t, VerdictAllow, v)
	assert.Equal(t, "shell", pat)

	v, _ = set.Evaluate("write_file", map[string]any{"path": "a"})
	assert.Equal(t, VerdictPrompt, v)
}

func TestFileFor_KeyedByWorkspace(t *testing.T) {
	data := t.TempDir()
	a := FileFor(data, t.TempDir())
	b := FileFor(data, t.TempDir())
	assert.NotEqual(t, a, b)
	assert.Equal(t, filepath.Join(data, "permissions"), filepath.Dir(a))
	assert.Equal(t, ".json", filepath.Ext(a))
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions", "ws.json")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Allow)

	for _, add := range []struct {
		kind    Kind
		pattern string
	}{
		{KindAllow, "shell(git *)"},
		{KindAllow, "read_file"},
		{KindDeny, "delete_path"},
		{KindAsk, "shell(git push*)"},
	} {
		added, err := s.Add(add.kind, add.pattern)
		require.NoError(t, err)
		assert.True(t, added)
	}

	reloaded, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
	assert.Equal(t, []string{"shell(git *)", "read_file"}, reloaded.Snapshot().Allow)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"permissions"`)
}

func TestStore_AddIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	s, err := Open(path)
	require.NoError(t, err)

	added, err := s.Add(KindAllow, "shell(go test*)")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(KindAllow, "shell(go test*)")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, s.Snapshot().Allow, 1)

	_, err = s.Add(KindAllow, "  ")
	assert.Error(t, err)
	_, err = s.Add(Kind("maybe"), "x")
	assert.Error(t, err)
}

func TestStore_AddMergesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"permissions":{"allow":["list_files"],"deny":[],"ask":[]}}`), 0o644))

	_, err = s.Add(KindAllow, "read_file")
	require.NoError(t, err)
	assert.Equal(t, []string{"list_files", "read_file"}, s.Snapshot().Allow)
}

func TestStore_OpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestStore_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	s, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan PatternSet, 4)
	require.NoError(t, s.Watch(ctx, func(p PatternSet) { reloaded <- p }))

	other, err := Open(path)
	require.NoError(t, err)
	_, err = other.Add(KindAllow, "grep_search")
	require.NoError(t, err)

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	assert.Contains(t, s.Snapshot().Allow, "grep_search")
}
