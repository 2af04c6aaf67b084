package research

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Solve modes recorded in traces.
const (
	SolveFromCandidate = "best_candidate"
	SolveFromModel     = "llm_fallback"
)

// Trace records every stage of one research run.
type Trace struct {
	ID         string                `json:"trace_id"`
	CreatedAt  time.Time             `json:"created_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Model      string                `json:"model,omitempty"`
	Question   string                `json:"question"`
	Plan       Plan                  `json:"plan"`
	Evidence   map[string][]Evidence `json:"evidence_by_language"`
	Rounds     []SearchRound         `json:"rounds"`
	Verdict    Verdict               `json:"verify"`
	Solve      SolveStep             `json:"solve"`
	Answer     string                `json:"answer"`
}

// SearchRound lists the queries sent in one round.
type SearchRound struct {
	Round int         `json:"round"`
	Runs  []SearchRun `json:"runs"`
}

// SearchRun is one query and what it returned.
type SearchRun struct {
	Language string `json:"language"`
	Query    string `json:"query"`
	Results  int    `json:"results"`
	Valid    int    `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// Verdict is the verify stage's output. Candidates and the constraint log
// are kept as the model wrote them.
type Verdict struct {
	BestCandidate         string          `json:"best_candidate"`
	BestCandidateLanguage string          `json:"best_candidate_language,omitempty"`
	Justification         string          `json:"language_justification,omitempty"`
	Candidates            json.RawMessage `json:"candidates,omitempty"`
	ConstraintLog         json.RawMessage `json:"constraint_log,omitempty"`
	Error                 string          `json:"error,omitempty"`
}

// SolveStep records how the final answer was produced.
type SolveStep struct {
	Mode             string `json:"mode"`
	RawOutput        string `json:"raw_output"`
	NormalizedAnswer string `json:"normalized_answer"`
}

// Save writes the trace to dir/<id>.json and returns the file path.
func (t *Trace) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, t.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sortedCopy(items []string) []string {
	out := slices.Clone(items)
	slices.Sort(out)
	return out
}
