package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joss/codecrew/internal/domain"
)

func TestParseReview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ok      bool
		status  domain.ReviewStatus
		issues  []string
	}{
		{
			name:    "direct json",
			content: `{"status":"passed","summary":"ok","files_checked":["a.go"],"issues":[]}`,
			ok:      true,
			status:  domain.ReviewPassed,
			issues:  []string{},
		},
		{
			name:    "embedded block",
			content: "Verdict below.\n```json\n{\"status\":\"needs_fixes\",\"summary\":\"x\",\"files_checked\":[],\"issues\":[\"a.go:1 - bad {brace}\"]}\n```",
			ok:      true,
			status:  domain.ReviewNeedsFixes,
			issues:  []string{"a.go:1 - bad {brace}"},
		},
		{
			name:    "skips blocks that are not verdicts",
			content: `config was {"port": 8080}; verdict {"status":"passed","summary":"","files_checked":[],"issues":[]}`,
			ok:      true,
			status:  domain.ReviewPassed,
			issues:  []string{},
		},
		{
			name:    "pending is not a verdict",
			content: `{"status":"pending","summary":"","files_checked":[],"issues":[]}`,
		},
		{
			name:    "compact marker",
			content: "All good. REVIEW:PASSED",
			ok:      true,
			status:  domain.ReviewPassed,
		},
		{
			name:    "needs fixes marker with issues",
			content: "REVIEW: NEEDS_FIXES\n1. go.mod missing\n 2. ignored because indented\n3.   tests fail",
			ok:      true,
			status:  domain.ReviewNeedsFixes,
			issues:  []string{"go.mod missing", "tests fail"},
		},
		{name: "prose", content: "Looks fine to me."},
		{name: "empty", content: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := ParseReview(tt.content)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.issues, r.Issues)
		})
	}
}

func TestJSONBlocks(t *testing.T) {
	blocks := jsonBlocks(`a {"k": "}"} b {"n": {"m": 1}} } c {unclosed`)
	assert.Equal(t, []string{`{"k": "}"}`, `{"n": {"m": 1}}`}, blocks)
}
