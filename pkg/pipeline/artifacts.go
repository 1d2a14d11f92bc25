package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Writer persists pipeline artifacts as indented JSON under one output
// directory:
//
//	questions/<question_id>.json
//	cross_question_insights.json
//	programs/<slug>.json
//	run_summary.json
type Writer struct {
	dir string
}

// NewWriter creates the artifact writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteAggregate persists one question aggregate.
func (w *Writer) WriteAggregate(agg models.QuestionAggregate) error {
	return w.writeJSON(filepath.Join("questions", agg.QuestionID+".json"), agg)
}

// WriteInsights persists the cross-question insights.
func (w *Writer) WriteInsights(insights []models.CrossQuestionInsight) error {
	if insights == nil {
		insights = []models.CrossQuestionInsight{}
	}
	return w.writeJSON("cross_question_insights.json", insights)
}

// WriteProgram persists one program insight.
func (w *Writer) WriteProgram(insight models.ProgramInsight) error {
	return w.writeJSON(filepath.Join("programs", slug(insight.ProgramName)+".json"), insight)
}

// WriteRunSummary persists the final run summary.
func (w *Writer) WriteRunSummary(summary models.RunSummary) error {
	return w.writeJSON("run_summary.json", summary)
}

func (w *Writer) writeJSON(rel string, v any) error {
	path := filepath.Join(w.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// slug turns a program name into a filesystem-safe file stem.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "program"
	}
	return s
}
