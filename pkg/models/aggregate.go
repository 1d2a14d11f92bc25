package models

import "time"

// Quote is a representative piece of evidence attached to an aggregate.
type Quote struct {
	Text            string          `json:"text"`
	Theme           string          `json:"theme"`
	StakeholderType StakeholderType `json:"stakeholder_type"`
	ResponseID      string          `json:"response_id"`
}

// QuestionAggregate summarizes all extracted features for one question.
// Each aggregation run produces a new immutable aggregate versioned by
// run id; nothing is updated in place.
type QuestionAggregate struct {
	QuestionID              string                  `json:"question_id"`
	Version                 string                  `json:"version"`
	GeneratedAt             time.Time               `json:"generated_at"`
	ResponseCount           int                     `json:"response_count"`
	FailedCount             int                     `json:"failed_count"`
	SkippedCount            int                     `json:"skipped_count"`
	ThemeCounts             map[string]int          `json:"theme_counts"`
	SentimentDistribution   map[Sentiment]int       `json:"sentiment_distribution"`
	UrgencyDistribution     map[Urgency]int         `json:"urgency_distribution"`
	StakeholderDistribution map[StakeholderType]int `json:"stakeholder_distribution"`
	RepresentativeQuotes    []Quote                 `json:"representative_quotes"`
}

// CrossQuestionInsight is a theme pattern spanning at least two questions.
// The id is a content digest of the normalized theme, so identical inputs
// always produce identical insights.
type CrossQuestionInsight struct {
	InsightID             string   `json:"insight_id"`
	Theme                 string   `json:"theme"`
	Description           string   `json:"description"`
	SupportingQuestionIDs []string `json:"supporting_question_ids"`
	EvidenceCount         int      `json:"evidence_count"`
	Confidence            float64  `json:"confidence"`
}

// ProgramInsight summarizes feedback attributed to one program. A response
// mentioning several programs is attributed to all of them; that is
// intentional, a response may legitimately discuss two programs.
type ProgramInsight struct {
	ProgramName          string            `json:"program_name"`
	MentionCount         int               `json:"mention_count"`
	ResponseIDs          []string          `json:"response_ids"`
	SentimentSummary     map[Sentiment]int `json:"sentiment_summary"`
	Strengths            []string          `json:"strengths"`
	ImprovementAreas     []string          `json:"improvement_areas"`
	RepresentativeQuotes []Quote           `json:"representative_quotes"`
}
