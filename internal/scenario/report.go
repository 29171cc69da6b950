// internal/scenario/report.go
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/mockroute/internal/router"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// StepResult records the outcome of one executed step.
type StepResult struct {
	Index      int     `json:"index"`
	Action     Action  `json:"action"`
	Target     string  `json:"target"`
	Message    string  `json:"message,omitempty"`
	Passed     bool    `json:"passed"`
	DurationMS int64   `json:"duration_ms"`
	Failure    Failure `json:"failure,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ScenarioResult records one scenario. Steps after a failure are not listed.
type ScenarioResult struct {
	Name        string       `json:"name"`
	Passed      bool         `json:"passed"`
	Steps       []StepResult `json:"steps"`
	Screenshots []string     `json:"screenshots,omitempty"`
}

// Report summarizes a single run.
type Report struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Passed     bool             `json:"passed"`
	Scenarios  []ScenarioResult `json:"scenarios"`
	Routes     *router.Stats    `json:"routes,omitempty"`
}

func newReport(now time.Time) *Report {
	return &Report{RunID: uuid.NewString(), StartedAt: now}
}

// Screenshots lists every screenshot written during the run, in order.
func (r *Report) Screenshots() []string {
	var out []string
	for _, sc := range r.Scenarios {
		out = append(out, sc.Screenshots...)
	}
	return out
}

// Marshal renders the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}
