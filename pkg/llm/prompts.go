package llm

import (
	"fmt"
	"strings"

	"github.com/canvass-ai/canvass/pkg/models"
)

// ExtractTemplateID versions the feature extraction prompt. Bump it when
// the prompt text changes so old cache entries are never reused.
const ExtractTemplateID = "extract-v1"

const extractSystem = `You are an analyst reviewing free-text answers from a community survey
about cultural funding. For each answer you produce a single JSON object with these fields:

  sentiment: one of "positive", "negative", "neutral", "mixed"
  sentiment_confidence: number in [0,1]
  themes: non-empty array of short lowercase theme labels (e.g. "funding access", "youth programs")
  urgency: one of "high", "medium", "low"
  stakeholder_type: one of "artist", "organization", "resident", "educator",
    "business_owner", "funder", "venue_operator", "unknown"
  stakeholder_confidence: number in [0,1]
  key_phrases: array of short verbatim phrases from the answer
  intent: one short sentence describing what the respondent wants
  actionable: boolean, true if the answer contains a concrete request or suggestion
  mentioned_programs: array of program names referenced, empty if none
  barriers: array of obstacles the respondent describes, empty if none
  solutions: array of fixes the respondent proposes, empty if none

Base every field only on the answer text. Reply with the JSON object and nothing else.`

// ExtractPrompt builds the extraction request for one response. The
// question text and intent travel in QuestionContext so the same answer
// under a different question is a different cache key.
func ExtractPrompt(q models.Question, responseText string) PromptSpec {
	var ctx strings.Builder
	fmt.Fprintf(&ctx, "question_id: %s\n", q.ID)
	fmt.Fprintf(&ctx, "question: %s\n", q.Text)
	if q.Intent != "" {
		fmt.Fprintf(&ctx, "intent: %s\n", q.Intent)
	}

	user := fmt.Sprintf("Survey question: %s\n", q.Text)
	if q.Intent != "" {
		user += fmt.Sprintf("The question was asked to learn: %s\n", q.Intent)
	}
	user += fmt.Sprintf("\nRespondent's answer:\n%s", responseText)

	return PromptSpec{
		TemplateID:      ExtractTemplateID,
		System:          extractSystem,
		User:            user,
		QuestionContext: ctx.String(),
		ResponseText:    responseText,
	}
}
