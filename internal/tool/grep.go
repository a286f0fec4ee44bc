package tool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/codecrew/internal/workspace"
)

const (
	defaultGrepResults = 100
	maxGrepFileSize    = 2 << 20
)

type GrepSearch struct{ sb *workspace.Sandbox }

func NewGrepSearch(sb *workspace.Sandbox) *GrepSearch { return &GrepSearch{sb: sb} }

func (t *GrepSearch) Info() Info {
	return Info{
		Name:        "grep_search",
		Description: "Search file contents with a regular expression. Returns path:line: text matches.",
		Parameters: object(map[string]any{
			"pattern":          prop("string", "Regular expression (RE2 syntax)"),
			"path":             prop("string", "Directory or file to search (default .)"),
			"include":          prop("string", "Only search files matching this glob (e.g. **/*.go)"),
			"case_insensitive": prop("boolean", "Case insensitive match"),
			"max_results":      prop("integer", "Maximum matches to return (default 100)"),
		}, "pattern"),
	}
}

func (t *GrepSearch) Execute(ctx context.Context, args map[string]any) (Output, error) {
	pattern, err := requireString(args, "pattern")
	if err != nil {
		return Output{}, err
	}
	if boolArg(args, "case_insensitive") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Output{}, invalidArgs("bad pattern: %v", err)
	}
	limit, err := intArg(args, "max_results", defaultGrepResults)
	if err != nil {
		return Output{}, err
	}
	include := stringOr(args, "include", "")
	if include != "" && !doublestar.ValidatePattern(include) {
		return Output{}, invalidArgs("bad include glob %q", include)
	}

	root, err := t.sb.Resolve(stringOr(args, "path", "."))
	if err != nil {
		return Output{}, err
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel := t.sb.Rel(p)
		if include != "" {
			if ok, _ := doublestar.Match(include, filepath.ToSlash(rel)); !ok {
				if ok, _ := doublestar.Match(include, d.Name()); !ok {
					return nil
				}
			}
		}
		found, err := grepFile(p, rel, re, limit-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return Output{}, walkErr
	}

	if len(matches) == 0 {
		return Text("No matches found"), nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= limit {
		out += fmt.Sprintf("\n... stopped at %d matches", limit)
	}
	return Text(out), nil
}

func grepFile(path, rel string, re *regexp.Regexp, remaining int) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxGrepFileSize {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, nil
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxGrepFileSize)
	n := 0
	for sc.Scan() && len(out) < remaining {
		n++
		line := sc.Text()
		if re.MatchString(line) {
			if len(line) > maxLineLength {
				line = line[:maxLineLength] + "..."
			}
			out = append(out, fmt.Sprintf("%s:%d: %s", rel, n, line))
		}
	}
	return out, nil
}
