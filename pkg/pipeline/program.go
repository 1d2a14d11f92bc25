package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/models"
)

// maxProgramThemes caps strengths and improvement areas per program.
const maxProgramThemes = 5

// Matcher attributes free text to programs via their alias registry.
// Matching is case-insensitive; the word strategy additionally requires
// word boundaries around the alias, which avoids attributing "Thriven
// Gallery" to a program named Thrive.
type Matcher struct {
	programs []models.Program
	patterns map[string][]*regexp.Regexp
	strategy config.MatchStrategy
}

// NewMatcher compiles the program registry for one match strategy.
func NewMatcher(programs []models.Program, strategy config.MatchStrategy) (*Matcher, error) {
	m := &Matcher{
		programs: programs,
		strategy: strategy,
		patterns: make(map[string][]*regexp.Regexp),
	}
	if strategy != config.MatchWord {
		return m, nil
	}
	for _, p := range programs {
		for _, alias := range aliasesOf(p) {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(alias) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("compile alias %q for %s: %w", alias, p.Name, err)
			}
			m.patterns[p.Name] = append(m.patterns[p.Name], re)
		}
	}
	return m, nil
}

// aliasesOf returns the canonical name plus all registered aliases.
func aliasesOf(p models.Program) []string {
	return append([]string{p.Name}, p.Aliases...)
}

// Match returns the canonical names of every program referenced in the
// given texts, in registry order. A text mentioning several programs
// matches all of them.
func (m *Matcher) Match(texts ...string) []string {
	var matched []string
	for _, p := range m.programs {
		if m.matchesProgram(p, texts) {
			matched = append(matched, p.Name)
		}
	}
	return matched
}

func (m *Matcher) matchesProgram(p models.Program, texts []string) bool {
	for _, text := range texts {
		if text == "" {
			continue
		}
		if m.strategy == config.MatchWord {
			for _, re := range m.patterns[p.Name] {
				if re.MatchString(text) {
					return true
				}
			}
			continue
		}
		lower := strings.ToLower(text)
		for _, alias := range aliasesOf(p) {
			if strings.Contains(lower, strings.ToLower(alias)) {
				return true
			}
		}
	}
	return false
}

// AnalyzePrograms attributes responses to programs and summarizes the
// feedback per program. Attribution considers the raw text, the source
// metadata values and the programs the extraction stage picked out.
// Every registered program gets an insight; zero mentions yield
// mention_count=0 with empty lists, not an error.
func AnalyzePrograms(m *Matcher, responses []models.RawResponse, features map[string]models.ResponseFeatures, quotesPerProgram int) []models.ProgramInsight {
	type programData struct {
		responseIDs []string
		sentiments  map[models.Sentiment]int
		positive    map[string]int
		negative    map[string]int
		quotes      []models.ResponseFeatures
		texts       map[string]string
	}
	data := make(map[string]*programData)

	for _, resp := range responses {
		f, ok := features[resp.ResponseID]
		if !ok {
			continue
		}

		texts := []string{resp.Text}
		for _, v := range resp.SourceMetadata {
			texts = append(texts, v)
		}
		texts = append(texts, f.MentionedPrograms...)

		for _, name := range m.Match(texts...) {
			d := data[name]
			if d == nil {
				d = &programData{
					sentiments: make(map[models.Sentiment]int),
					positive:   make(map[string]int),
					negative:   make(map[string]int),
					texts:      make(map[string]string),
				}
				data[name] = d
			}
			d.responseIDs = append(d.responseIDs, resp.ResponseID)
			d.sentiments[f.Sentiment]++
			d.quotes = append(d.quotes, f)
			d.texts[resp.ResponseID] = resp.Text

			for _, raw := range f.Themes {
				theme := normalizeTheme(raw)
				if theme == "" {
					continue
				}
				switch f.Sentiment {
				case models.SentimentPositive:
					d.positive[theme]++
				case models.SentimentNegative, models.SentimentMixed:
					d.negative[theme]++
				}
			}
		}
	}

	var insights []models.ProgramInsight
	for _, p := range m.programs {
		d := data[p.Name]
		if d == nil {
			insights = append(insights, models.ProgramInsight{
				ProgramName:          p.Name,
				ResponseIDs:          []string{},
				SentimentSummary:     map[models.Sentiment]int{},
				Strengths:            []string{},
				ImprovementAreas:     []string{},
				RepresentativeQuotes: []models.Quote{},
			})
			continue
		}

		sort.SliceStable(d.quotes, func(i, j int) bool {
			return d.quotes[i].SentimentConfidence > d.quotes[j].SentimentConfidence
		})
		limit := quotesPerProgram
		if limit > len(d.quotes) {
			limit = len(d.quotes)
		}
		quotes := make([]models.Quote, 0, limit)
		for _, f := range d.quotes[:limit] {
			theme := ""
			if len(f.Themes) > 0 {
				theme = normalizeTheme(f.Themes[0])
			}
			quotes = append(quotes, models.Quote{
				Text:            d.texts[f.ResponseID],
				Theme:           theme,
				StakeholderType: f.StakeholderType,
				ResponseID:      f.ResponseID,
			})
		}

		insights = append(insights, models.ProgramInsight{
			ProgramName:          p.Name,
			MentionCount:         len(d.responseIDs),
			ResponseIDs:          d.responseIDs,
			SentimentSummary:     d.sentiments,
			Strengths:            rankThemes(d.positive, maxProgramThemes),
			ImprovementAreas:     rankThemes(d.negative, maxProgramThemes),
			RepresentativeQuotes: quotes,
		})
	}

	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].MentionCount != insights[j].MentionCount {
			return insights[i].MentionCount > insights[j].MentionCount
		}
		return insights[i].ProgramName < insights[j].ProgramName
	})
	return insights
}
