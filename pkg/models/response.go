package models

import "fmt"

// Sentiment classifies the overall emotional tone of a response.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// Urgency classifies how pressing the issues raised in a response are.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// StakeholderType identifies the kind of respondent behind a response.
type StakeholderType string

const (
	StakeholderArtist        StakeholderType = "artist"
	StakeholderOrganization  StakeholderType = "organization"
	StakeholderResident      StakeholderType = "resident"
	StakeholderEducator      StakeholderType = "educator"
	StakeholderBusinessOwner StakeholderType = "business_owner"
	StakeholderFunder        StakeholderType = "funder"
	StakeholderVenueOperator StakeholderType = "venue_operator"
	StakeholderUnknown       StakeholderType = "unknown"
)

func validSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
		return true
	}
	return false
}

func validUrgency(u Urgency) bool {
	switch u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

func validStakeholder(s StakeholderType) bool {
	switch s {
	case StakeholderArtist, StakeholderOrganization, StakeholderResident,
		StakeholderEducator, StakeholderBusinessOwner, StakeholderFunder,
		StakeholderVenueOperator, StakeholderUnknown:
		return true
	}
	return false
}

// RawResponse is a single free-text survey answer as supplied by ingestion.
// It is immutable: the pipeline only ever reads it.
type RawResponse struct {
	ResponseID     string            `json:"response_id"`
	QuestionID     string            `json:"question_id"`
	RespondentID   string            `json:"respondent_id"`
	Text           string            `json:"text"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`
}

// Validator is implemented by every record type the invoker can produce.
// Validation runs at the model boundary: output that does not conform is
// rejected there, never passed downstream.
type Validator interface {
	Validate() error
}

// ResponseFeatures is the structured record extracted from one RawResponse.
// Each instance traces to exactly one cache entry (CacheKey) and one
// raw response (ResponseID).
type ResponseFeatures struct {
	ResponseID            string          `json:"response_id"`
	QuestionID            string          `json:"question_id"`
	Sentiment             Sentiment       `json:"sentiment"`
	SentimentConfidence   float64         `json:"sentiment_confidence"`
	Themes                []string        `json:"themes"`
	Urgency               Urgency         `json:"urgency"`
	StakeholderType       StakeholderType `json:"stakeholder_type"`
	StakeholderConfidence float64         `json:"stakeholder_confidence"`
	KeyPhrases            []string        `json:"key_phrases"`
	Intent                string          `json:"intent"`
	Actionable            bool            `json:"actionable"`
	MentionedPrograms     []string        `json:"mentioned_programs,omitempty"`
	Barriers              []string        `json:"barriers,omitempty"`
	Solutions             []string        `json:"solutions,omitempty"`
	CacheKey              string          `json:"cache_key,omitempty"`
}

// Validate checks the enum and range invariants of the record.
func (f *ResponseFeatures) Validate() error {
	if !validSentiment(f.Sentiment) {
		return fmt.Errorf("invalid sentiment %q", f.Sentiment)
	}
	if f.SentimentConfidence < 0 || f.SentimentConfidence > 1 {
		return fmt.Errorf("sentiment_confidence %v out of [0,1]", f.SentimentConfidence)
	}
	if len(f.Themes) == 0 {
		return fmt.Errorf("themes must not be empty")
	}
	if !validUrgency(f.Urgency) {
		return fmt.Errorf("invalid urgency %q", f.Urgency)
	}
	if !validStakeholder(f.StakeholderType) {
		return fmt.Errorf("invalid stakeholder_type %q", f.StakeholderType)
	}
	if f.StakeholderConfidence < 0 || f.StakeholderConfidence > 1 {
		return fmt.Errorf("stakeholder_confidence %v out of [0,1]", f.StakeholderConfidence)
	}
	return nil
}
