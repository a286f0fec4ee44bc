package domain

// ReviewResult is the structured verdict a reviewer is asked to emit.
type ReviewResult struct {
	Status       ReviewStatus `json:"status"`
	Summary      string       `json:"summary"`
	FilesChecked []string     `json:"files_checked"`
	Issues       []string     `json:"issues"`
}

// Valid reports whether the verdict is one a reviewer may return.
func (r ReviewResult) Valid() bool {
	return r.Status == ReviewPassed || r.Status == ReviewNeedsFixes
}
