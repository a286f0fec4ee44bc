package tool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/codecrew/internal/workspace"
)

const (
	maxReadLines   = 2000
	maxLineLength  = 2000
	maxListEntries = 500
)

// skipDirs are never descended into by listing and search tools.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

type ReadFile struct{ sb *workspace.Sandbox }

func NewReadFile(sb *workspace.Sandbox) *ReadFile { return &ReadFile{sb: sb} }

func (t *ReadFile) Info() Info {
	return Info{
		Name:        "read_file",
		Description: "Read a text file from the workspace. Lines are numbered. Use start_line/end_line for large files.",
		Parameters: object(map[string]any{
			"path":       prop("string", "File path relative to the workspace root"),
			"start_line": prop("integer", "First line to return (1-based)"),
			"end_line":   prop("integer", "Last line to return (inclusive)"),
		}, "path"),
	}
}

func (t *ReadFile) Execute(ctx context.Context, args map[string]any) (Output, error) {
	p, err := requireString(args, "path")
	if err != nil {
		return Output{}, err
	}
	start, err := intArg(args, "start_line", 1)
	if err != nil {
		return Output{}, err
	}
	end, err := intArg(args, "end_line", 0)
	if err != nil {
		return Output{}, err
	}
	abs, err := t.sb.Resolve(p)
	if err != nil {
		return Output{}, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return Output{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if n < start {
			continue
		}
		if end > 0 && n > end {
			break
		}
		if len(lines) >= maxReadLines {
			lines = append(lines, fmt.Sprintf("... truncated at %d lines", maxReadLines))
			break
		}
		line := sc.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		lines = append(lines, fmt.Sprintf("%6d\t%s", n, line))
	}
	if err := sc.Err(); err != nil {
		return Output{}, fmt.Errorf("read file: %w", err)
	}
	if len(lines) == 0 {
		return Text(fmt.Sprintf("%s is empty", p)), nil
	}
	return Text(strings.Join(lines, "\n")), nil
}

type WriteFile struct{ sb *workspace.Sandbox }

func NewWriteFile(sb *workspace.Sandbox) *WriteFile { return &WriteFile{sb: sb} }

func (t *WriteFile) Info() Info {
	return Info{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content. Parent directories are created.",
		Parameters: object(map[string]any{
			"path":    prop("string", "File path relative to the workspace root"),
			"content": prop("string", "Full file content"),
		}, "path", "content"),
	}
}

func (t *WriteFile) Execute(ctx context.Context, args map[string]any) (Output, error) {
	p, err := requireString(args, "path")
	if err != nil {
		return Output{}, err
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return Output{}, invalidArgs("%q is required", "content")
	}
	abs, err := t.sb.Resolve(p)
	if err != nil {
		return Output{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Output{}, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Output{}, fmt.Errorf("write file: %w", err)
	}
	return Text(fmt.Sprintf("Wrote %d bytes to %s", len(content), t.sb.Rel(abs))), nil
}

type StrReplace struct{ sb *workspace.Sandbox }

func NewStrReplace(sb *workspace.Sandbox) *StrReplace { return &StrReplace{sb: sb} }

func (t *StrReplace) Info() Info {
	return Info{
		Name:        "str_replace",
		Description: "Replace an exact string in a file. old_str must occur exactly once unless replace_all is set.",
		Parameters: object(map[string]any{
			"path":        prop("string", "File path relative to the workspace root"),
			"old_str":     prop("string", "Exact text to replace"),
			"new_str":     prop("string", "Replacement text"),
			"replace_all": prop("boolean", "Replace every occurrence"),
		}, "path", "old_str", "new_str"),
	}
}

func (t *StrReplace) Execute(ctx context.Context, args map[string]any) (Output, error) {
	p, err := requireString(args, "path")
	if err != nil {
		return Output{}, err
	}
	oldStr, err := requireString(args, "old_str")
	if err != nil {
		return Output{}, err
	}
	newStr, _ := stringArg(args, "new_str")
	abs, err := t.sb.Resolve(p)
	if err != nil {
		return Output{}, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Output{}, fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	replaceAll := boolArg(args, "replace_all")
	switch {
	case count == 0:
		return Output{}, fmt.Errorf("old_str not found in %s", p)
	case count > 1 && !replaceAll:
		return Output{}, fmt.Errorf("old_str found %d times in %s; add context or set replace_all", count, p)
	}

	if replaceAll {
		content = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		content = strings.Replace(content, oldStr, newStr, 1)
		count = 1
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Output{}, fmt.Errorf("write file: %w", err)
	}
	return Text(fmt.Sprintf("Replaced %d occurrence(s) in %s", count, t.sb.Rel(abs))), nil
}

type ListFiles struct{ sb *workspace.Sandbox }

func NewListFiles(sb *workspace.Sandbox) *ListFiles { return &ListFiles{sb: sb} }

func (t *ListFiles) Info() Info {
	return Info{
		Name:        "list_files",
		Description: "List files under a directory. Optional glob pattern supports ** (e.g. src/**/*.go).",
		Parameters: object(map[string]any{
			"path":    prop("string", "Directory relative to the workspace root (default .)"),
			"pattern": prop("string", "Glob pattern relative to path (default: direct children)"),
		}),
	}
}

func (t *ListFiles) Execute(ctx context.Context, args map[string]any) (Output, error) {
	dir := stringOr(args, "path", ".")
	abs, err := t.sb.Resolve(dir)
	if err != nil {
		return Output{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Output{}, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Output{}, fmt.Errorf("%s is not a directory", dir)
	}

	pattern := stringOr(args, "pattern", "*")
	if !doublestar.ValidatePattern(pattern) {
		return Output{}, invalidArgs("bad glob pattern %q", pattern)
	}

	var entries []string
	truncated := false
	err = doublestar.GlobWalk(os.DirFS(abs), pattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return fs.SkipDir
		}
		if len(entries) >= maxListEntries {
			truncated = true
			return errListFull
		}
		if d.IsDir() {
			entries = append(entries, p+"/")
		} else {
			entries = append(entries, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errListFull) {
		return Output{}, fmt.Errorf("list %s: %w", dir, err)
	}

	if len(entries) == 0 {
		return Text(fmt.Sprintf("No files found in %s", t.sb.Rel(abs))), nil
	}
	sort.Strings(entries)
	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n... truncated at %d entries", maxListEntries)
	}
	return Text(out), nil
}

var errListFull = errors.New("listing full")

type PathExists struct{ sb *workspace.Sandbox }

func NewPathExists(sb *workspace.Sandbox) *PathExists { return &PathExists{sb: sb} }

func (t *PathExists) Info() Info {
	return Info{
		Name:        "path_exists",
		Description: "Check whether a file or directory exists in the workspace.",
		Parameters: object(map[string]any{
			"path": prop("string", "Path relative to the workspace root"),
		}, "path"),
	}
}

func (t *PathExists) Execute(ctx context.Context, args map[string]any) (Output, error) {
	p, err := requireString(args, "path")
	if err != nil {
		return Output{}, err
	}
	abs, err := t.sb.Resolve(p)
	if err != nil {
		return Output{}, err
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Text(fmt.Sprintf("%s does not exist", p)), nil
	case err != nil:
		return Output{}, err
	case info.IsDir():
		return Text(fmt.Sprintf("%s exists (directory)", p)), nil
	default:
		return Text(fmt.Sprintf("%s exists (file, %d bytes)", p, info.Size())), nil
	}
}

type CreateDirectory struct{ sb *workspace.Sandbox }

func NewCreateDirectory(sb *workspace.Sandbox) *CreateDirectory { return &CreateDirectory{sb: sb} }

func (t *CreateDirectory) Info() Info {
	return Info{
		Name:        "create_directory",
		Description: "Create a directory (and parents) in the workspace.",
		Parameters: object(map[string]any{
			"path": prop("string", "Directory path relative to the workspace root"),
		}, "path"),
	}
}

func (t *CreateDirectory) Execute(ctx context.Context, args map[string]any) (Output, error) {
	p, err := requireString(args, "path")
	if err != nil {
		return Output{}, err
	}
	abs, err := t.sb.Resolve(p)
	if err != nil {
		return Output{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Output{}, fmt.Errorf("create directory: %w", err)
	}
	return Text(fmt.Sprintf("Created directory %s", t.sb.Rel(abs))), nil
}

type DeletePath struct{ sb *workspace.Sandbox }

func NewDeletePath(sb *workspace.Sandbox) *DeletePath { return &DeletePath{sb: sb} }

func (t *DeletePath) Info() Info {
	return Info{
		Name:        "delete_path",
		Description: "Delete a file, or a directory when recursive is true.",
		Parameters: object(map[string]any{
			"path":      prop("string", "Path relative to the workspace root"),
			"recursive": prop("boolean", "Required to delete a non-empty directory"),
		}, "path"),
	}
}

func (t *DeletePath) Execute(ctx context.Context, args map[string]any) (Output, error) {
	p, err := requireString(args, "path")
	if err != nil {
		return Output{}, err
	}
	abs, err := t.sb.Resolve(p)
	if err != nil {
		return Output{}, err
	}
	if abs == t.sb.Root() {
		return Output{}, errors.New("refusing to delete the workspace root")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Output{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() && boolArg(args, "recursive") {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return Output{}, fmt.Errorf("delete %s: %w", p, err)
	}
	return Text(fmt.Sprintf("Deleted %s", t.sb.Rel(abs))), nil
}
