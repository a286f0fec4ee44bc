package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/joss/codecrew/internal/domain"
)

var numberedIssue = regexp.MustCompile(`(?m)^\d+\.\s*(.+)$`)

// ParseReview reads a verdict out of one reviewer message. It tries the
// whole text as JSON, then each balanced {...} block in order, then the
// legacy "REVIEW: PASSED" / "REVIEW: NEEDS_FIXES" markers.
func ParseReview(content string) (domain.ReviewResult, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ReviewResult{}, false
	}
	if r, ok := decodeVerdict(content); ok {
		return r, true
	}
	for _, block := range jsonBlocks(content) {
		if r, ok := decodeVerdict(block); ok {
			return r, true
		}
	}
	return parseMarkers(content)
}

func decodeVerdict(s string) (domain.ReviewResult, bool) {
	var r domain.ReviewResult
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return domain.ReviewResult{}, false
	}
	return r, r.Valid()
}

// jsonBlocks returns every top-level balanced brace block, skipping braces
// inside JSON strings.
func jsonBlocks(s string) []string {
	var (
		out      []string
		depth    int
		start    int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, s[start:i+1])
			}
		}
	}
	return out
}

func parseMarkers(content string) (domain.ReviewResult, bool) {
	switch {
	case strings.Contains(content, "REVIEW: PASSED"), strings.Contains(content, "REVIEW:PASSED"):
		return domain.ReviewResult{Status: domain.ReviewPassed}, true
	case strings.Contains(content, "REVIEW: NEEDS_FIXES"), strings.Contains(content, "REVIEW:NEEDS_FIXES"):
		r := domain.ReviewResult{Status: domain.ReviewNeedsFixes}
		for _, m := range numberedIssue.FindAllStringSubmatch(content, -1) {
			r.Issues = append(r.Issues, strings.TrimSpace(m[1]))
		}
		return r, true
	}
	return domain.ReviewResult{}, false
}
