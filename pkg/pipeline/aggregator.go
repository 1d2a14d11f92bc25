package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Aggregator reduces extracted features into per-question aggregates.
// Aggregation is fully deterministic: no external calls, no randomness,
// and stable ordering everywhere.
type Aggregator struct {
	TopThemes      int
	QuotesPerTheme int
}

// normalizeTheme canonicalizes a theme label so that surface variants
// count as one theme: lowercased, trimmed, hyphens and underscores
// treated as spaces, runs of whitespace collapsed.
func normalizeTheme(theme string) string {
	theme = strings.ToLower(strings.TrimSpace(theme))
	theme = strings.ReplaceAll(theme, "-", " ")
	theme = strings.ReplaceAll(theme, "_", " ")
	return strings.Join(strings.Fields(theme), " ")
}

// Aggregate builds the aggregate for one question. features must be in
// corpus order; texts maps response ids to their raw text for quote
// selection. version tags the producing run, so re-runs create new
// aggregates instead of mutating old ones.
func (a *Aggregator) Aggregate(questionID, version string, features []models.ResponseFeatures, texts map[string]string, failed, skipped int, now time.Time) models.QuestionAggregate {
	agg := models.QuestionAggregate{
		QuestionID:              questionID,
		Version:                 version,
		GeneratedAt:             now,
		ResponseCount:           len(features),
		FailedCount:             failed,
		SkippedCount:            skipped,
		ThemeCounts:             make(map[string]int),
		SentimentDistribution:   make(map[models.Sentiment]int),
		UrgencyDistribution:     make(map[models.Urgency]int),
		StakeholderDistribution: make(map[models.StakeholderType]int),
	}

	// themeResponses keeps, per normalized theme, the features that
	// mentioned it, in corpus order, for quote selection later.
	themeResponses := make(map[string][]models.ResponseFeatures)

	for _, f := range features {
		agg.SentimentDistribution[f.Sentiment]++
		agg.UrgencyDistribution[f.Urgency]++
		agg.StakeholderDistribution[f.StakeholderType]++

		// A theme counts once per response no matter how often the
		// model repeats it.
		seen := make(map[string]bool)
		for _, raw := range f.Themes {
			theme := normalizeTheme(raw)
			if theme == "" || seen[theme] {
				continue
			}
			seen[theme] = true
			agg.ThemeCounts[theme]++
			themeResponses[theme] = append(themeResponses[theme], f)
		}
	}

	agg.RepresentativeQuotes = a.selectQuotes(agg.ThemeCounts, themeResponses, texts)
	return agg
}

// selectQuotes picks up to QuotesPerTheme quotes for each of the top
// TopThemes themes. Themes rank by count descending, ties broken
// lexically. Candidates whose key phrases overlap the theme are
// preferred; within the candidate set, quotes rank by sentiment
// confidence descending, ties broken by corpus order.
func (a *Aggregator) selectQuotes(counts map[string]int, themeResponses map[string][]models.ResponseFeatures, texts map[string]string) []models.Quote {
	themes := rankThemes(counts, a.TopThemes)

	quotes := []models.Quote{}
	for _, theme := range themes {
		candidates := overlappingCandidates(theme, themeResponses[theme])
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].SentimentConfidence > candidates[j].SentimentConfidence
		})

		limit := a.QuotesPerTheme
		if limit > len(candidates) {
			limit = len(candidates)
		}
		for _, f := range candidates[:limit] {
			quotes = append(quotes, models.Quote{
				Text:            texts[f.ResponseID],
				Theme:           theme,
				StakeholderType: f.StakeholderType,
				ResponseID:      f.ResponseID,
			})
		}
	}
	return quotes
}

// overlappingCandidates narrows a theme's responses to those whose key
// phrases share a word with the theme. When no response overlaps, all of
// them stay candidates rather than leaving the theme quoteless.
func overlappingCandidates(theme string, responses []models.ResponseFeatures) []models.ResponseFeatures {
	words := strings.Fields(theme)

	var overlapping []models.ResponseFeatures
	for _, f := range responses {
		if keyPhrasesOverlap(words, f.KeyPhrases) {
			overlapping = append(overlapping, f)
		}
	}
	if len(overlapping) == 0 {
		return append([]models.ResponseFeatures(nil), responses...)
	}
	return overlapping
}

func keyPhrasesOverlap(themeWords []string, phrases []string) bool {
	for _, phrase := range phrases {
		phrase = strings.ToLower(phrase)
		for _, w := range themeWords {
			if strings.Contains(phrase, w) {
				return true
			}
		}
	}
	return false
}

// rankThemes returns up to limit themes ordered by count descending,
// ties broken lexically. limit <= 0 means no cap.
func rankThemes(counts map[string]int, limit int) []string {
	themes := make([]string, 0, len(counts))
	for t := range counts {
		themes = append(themes, t)
	}
	sort.Slice(themes, func(i, j int) bool {
		if counts[themes[i]] != counts[themes[j]] {
			return counts[themes[i]] > counts[themes[j]]
		}
		return themes[i] < themes[j]
	})
	if limit > 0 && len(themes) > limit {
		themes = themes[:limit]
	}
	return themes
}
