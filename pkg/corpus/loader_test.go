package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testQuestions = `
questions:
  - id: q1
    text: What would improve cultural funding?
    intent: surface funding gaps
  - id: q2
    text: Which programs have you participated in?
`

const testResponses = `[
  {"response_id": "r1", "question_id": "q1", "respondent_id": "p1", "text": "More grants."},
  {"response_id": "r2", "question_id": "q1", "respondent_id": "p2", "text": ""},
  {"response_id": "r3", "question_id": "q2", "respondent_id": "p1", "text": "Thrive was great."}
]`

func writeCorpus(t *testing.T, questions, responses string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	qPath := filepath.Join(dir, "questions.yaml")
	rPath := filepath.Join(dir, "responses.json")
	if err := os.WriteFile(qPath, []byte(questions), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(rPath, []byte(responses), 0o644); err != nil {
		t.Fatal(err)
	}
	return qPath, rPath
}

func TestLoad(t *testing.T) {
	qPath, rPath := writeCorpus(t, testQuestions, testResponses)

	c, err := Load(qPath, rPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Questions) != 2 {
		t.Errorf("expected 2 questions, got %d", len(c.Questions))
	}
	if len(c.Responses) != 3 {
		t.Errorf("expected 3 responses, got %d", len(c.Responses))
	}

	q1 := c.ResponsesFor("q1")
	if len(q1) != 2 || q1[0].ResponseID != "r1" || q1[1].ResponseID != "r2" {
		t.Errorf("unexpected q1 responses: %+v", q1)
	}

	q, ok := c.QuestionByID("q2")
	if !ok || q.Text != "Which programs have you participated in?" {
		t.Errorf("unexpected q2 lookup: %+v ok=%v", q, ok)
	}
}

func TestLoadUnknownQuestion(t *testing.T) {
	qPath, rPath := writeCorpus(t, testQuestions,
		`[{"response_id": "r1", "question_id": "q99", "respondent_id": "p1", "text": "hi"}]`)

	_, err := Load(qPath, rPath)
	if err == nil || !strings.Contains(err.Error(), "unknown question") {
		t.Errorf("expected unknown question error, got %v", err)
	}
}

func TestLoadResponsesDuplicateID(t *testing.T) {
	_, rPath := writeCorpus(t, testQuestions,
		`[{"response_id": "r1", "question_id": "q1", "respondent_id": "p1", "text": "a"},
		  {"response_id": "r1", "question_id": "q1", "respondent_id": "p2", "text": "b"}]`)

	_, err := LoadResponses(rPath)
	if err == nil || !strings.Contains(err.Error(), "duplicate response_id") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestLoadQuestionsEmpty(t *testing.T) {
	qPath, _ := writeCorpus(t, "questions: []", testResponses)

	_, err := LoadQuestions(qPath)
	if err == nil {
		t.Error("expected error for empty catalog")
	}
}

func TestLoadQuestionsMissingFile(t *testing.T) {
	if _, err := LoadQuestions(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
