package corpus

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Corpus is the loaded survey input: the question catalog plus every raw
// response, indexed for stage fan-out. The corpus is read-only after
// loading; source order is preserved so runs are reproducible.
type Corpus struct {
	Questions []models.Question
	Responses []models.RawResponse

	byQuestion map[string][]models.RawResponse
	questions  map[string]models.Question
}

// Load reads the question catalog and response corpus from disk and
// cross-checks them. Responses referencing unknown questions are an
// input error, not something to silently drop mid-pipeline.
func Load(questionsPath, responsesPath string) (*Corpus, error) {
	questions, err := LoadQuestions(questionsPath)
	if err != nil {
		return nil, err
	}
	responses, err := LoadResponses(responsesPath)
	if err != nil {
		return nil, err
	}

	c := &Corpus{
		Questions:  questions,
		Responses:  responses,
		byQuestion: make(map[string][]models.RawResponse),
		questions:  make(map[string]models.Question, len(questions)),
	}
	for _, q := range questions {
		c.questions[q.ID] = q
	}
	for _, r := range responses {
		if _, ok := c.questions[r.QuestionID]; !ok {
			return nil, fmt.Errorf("response %s references unknown question %q", r.ResponseID, r.QuestionID)
		}
		c.byQuestion[r.QuestionID] = append(c.byQuestion[r.QuestionID], r)
	}
	return c, nil
}

// LoadQuestions reads the YAML question catalog.
func LoadQuestions(path string) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	var catalog struct {
		Questions []models.Question `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(catalog.Questions) == 0 {
		return nil, fmt.Errorf("question catalog %s is empty", path)
	}

	seen := make(map[string]bool, len(catalog.Questions))
	for i, q := range catalog.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question %d has no id", i)
		}
		if q.Text == "" {
			return nil, fmt.Errorf("question %s has no text", q.ID)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
	}
	return catalog.Questions, nil
}

// LoadResponses reads the JSON response corpus. Empty or whitespace-only
// texts are kept: the extraction stage records them as skipped so the
// audit trail accounts for every input row.
func LoadResponses(path string) ([]models.RawResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responses: %w", err)
	}

	var responses []models.RawResponse
	if err := json.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("parse responses: %w", err)
	}

	seen := make(map[string]bool, len(responses))
	for i, r := range responses {
		if r.ResponseID == "" {
			return nil, fmt.Errorf("response %d has no response_id", i)
		}
		if r.QuestionID == "" {
			return nil, fmt.Errorf("response %s has no question_id", r.ResponseID)
		}
		if seen[r.ResponseID] {
			return nil, fmt.Errorf("duplicate response_id %q", r.ResponseID)
		}
		seen[r.ResponseID] = true
	}
	return responses, nil
}

// ResponsesFor returns the responses to one question in source order.
func (c *Corpus) ResponsesFor(questionID string) []models.RawResponse {
	return c.byQuestion[questionID]
}

// QuestionByID looks up a catalog entry.
func (c *Corpus) QuestionByID(id string) (models.Question, bool) {
	q, ok := c.questions[id]
	return q, ok
}
