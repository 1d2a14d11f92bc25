package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/models"
)

var testPrograms = []models.Program{
	{Name: "Thrive", Aliases: []string{"THRIVE (biennial)", "thrive grant"}},
	{Name: "Nexus", Aliases: []string{"nexus program"}},
	{Name: "Elevate"},
}

func TestMatcherSubstring(t *testing.T) {
	m, err := NewMatcher(testPrograms, config.MatchSubstring)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		text string
		want []string
	}{
		{"I loved the THRIVE (biennial) showcase", []string{"Thrive"}},
		{"the thrive grant helped us", []string{"Thrive"}},
		{"Nexus and Elevate changed everything", []string{"Nexus", "Elevate"}},
		{"no programs here", nil},
		// Substring matching over-attributes on embedded words.
		{"the Thriven Gallery opened", []string{"Thrive"}},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.want, m.Match(c.text)); diff != "" {
			t.Errorf("Match(%q) mismatch (-want +got):\n%s", c.text, diff)
		}
	}
}

func TestMatcherWordBoundary(t *testing.T) {
	m, err := NewMatcher(testPrograms, config.MatchWord)
	if err != nil {
		t.Fatal(err)
	}

	if got := m.Match("the Thriven Gallery opened"); got != nil {
		t.Errorf("word matching must not match embedded aliases, got %v", got)
	}
	if diff := cmp.Diff([]string{"Thrive"}, m.Match("Thrive was great")); diff != "" {
		t.Errorf("word match mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Thrive"}, m.Match("thrive, honestly")); diff != "" {
		t.Errorf("punctuation boundary mismatch (-want +got):\n%s", diff)
	}
}

func TestMatcherMultipleTexts(t *testing.T) {
	m, err := NewMatcher(testPrograms, config.MatchSubstring)
	if err != nil {
		t.Fatal(err)
	}

	// Metadata and extracted program names participate in matching.
	if diff := cmp.Diff([]string{"Nexus"}, m.Match("loved it", "source: nexus program booth")); diff != "" {
		t.Errorf("metadata match mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzePrograms(t *testing.T) {
	m, err := NewMatcher(testPrograms, config.MatchSubstring)
	if err != nil {
		t.Fatal(err)
	}

	responses := []models.RawResponse{
		{ResponseID: "r1", QuestionID: "q1", Text: "Thrive was transformative"},
		{ResponseID: "r2", QuestionID: "q1", Text: "Thrive needs better outreach"},
		{ResponseID: "r3", QuestionID: "q2", Text: "Nexus and Thrive both helped"},
		{ResponseID: "r4", QuestionID: "q2", Text: "nothing to add"},
	}
	features := map[string]models.ResponseFeatures{
		"r1": feat("r1", models.SentimentPositive, 0.9, "mentorship"),
		"r2": feat("r2", models.SentimentNegative, 0.8, "outreach"),
		"r3": feat("r3", models.SentimentPositive, 0.7, "collaboration"),
		"r4": feat("r4", models.SentimentNeutral, 0.5, "misc"),
	}

	insights := AnalyzePrograms(m, responses, features, 3)

	if len(insights) != 3 {
		t.Fatalf("expected an insight per registered program, got %d", len(insights))
	}

	thrive := insights[0]
	if thrive.ProgramName != "Thrive" || thrive.MentionCount != 3 {
		t.Errorf("unexpected first insight: %+v", thrive)
	}
	if diff := cmp.Diff([]string{"r1", "r2", "r3"}, thrive.ResponseIDs); diff != "" {
		t.Errorf("response ids mismatch (-want +got):\n%s", diff)
	}
	if thrive.SentimentSummary[models.SentimentPositive] != 2 || thrive.SentimentSummary[models.SentimentNegative] != 1 {
		t.Errorf("unexpected sentiment summary: %+v", thrive.SentimentSummary)
	}
	if diff := cmp.Diff([]string{"collaboration", "mentorship"}, thrive.Strengths); diff != "" {
		t.Errorf("strengths mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"outreach"}, thrive.ImprovementAreas); diff != "" {
		t.Errorf("improvement areas mismatch (-want +got):\n%s", diff)
	}

	nexus := insights[1]
	if nexus.ProgramName != "Nexus" || nexus.MentionCount != 1 {
		t.Errorf("unexpected second insight: %+v", nexus)
	}

	// Unmentioned programs still get an insight, empty rather than absent.
	elevate := insights[2]
	if elevate.ProgramName != "Elevate" || elevate.MentionCount != 0 {
		t.Errorf("unexpected third insight: %+v", elevate)
	}
	if elevate.ResponseIDs == nil || len(elevate.Strengths) != 0 || len(elevate.RepresentativeQuotes) != 0 {
		t.Errorf("zero-mention insight must carry empty lists: %+v", elevate)
	}
	data, err := json.Marshal(elevate)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"response_ids":[]`, `"strengths":[]`, `"representative_quotes":[]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in serialized insight, got %s", want, data)
		}
	}
}

func TestAnalyzeProgramsQuotesRanked(t *testing.T) {
	m, err := NewMatcher(testPrograms, config.MatchSubstring)
	if err != nil {
		t.Fatal(err)
	}

	responses := []models.RawResponse{
		{ResponseID: "r1", QuestionID: "q1", Text: "Elevate is fine"},
		{ResponseID: "r2", QuestionID: "q1", Text: "Elevate is wonderful"},
	}
	features := map[string]models.ResponseFeatures{
		"r1": feat("r1", models.SentimentNeutral, 0.4, "misc"),
		"r2": feat("r2", models.SentimentPositive, 0.95, "joy"),
	}

	insights := AnalyzePrograms(m, responses, features, 1)
	if len(insights) != 3 || insights[0].ProgramName != "Elevate" {
		t.Fatalf("expected Elevate ranked first, got %+v", insights)
	}
	quotes := insights[0].RepresentativeQuotes
	if len(quotes) != 1 || quotes[0].ResponseID != "r2" {
		t.Errorf("expected highest-confidence quote r2, got %+v", quotes)
	}
	if quotes[0].Text != "Elevate is wonderful" {
		t.Errorf("quote must carry raw text, got %q", quotes[0].Text)
	}
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Thrive", "thrive"},
		{"THRIVE (biennial)", "thrive-biennial"},
		{"Arts & Culture Fund", "arts--culture-fund"},
		{"???", "program"},
	}
	for _, c := range cases {
		if got := slug(c.in); got != c.want {
			t.Errorf("slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
