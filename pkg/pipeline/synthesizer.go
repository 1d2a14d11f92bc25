package pipeline

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sort"

	"github.com/canvass-ai/canvass/pkg/models"
)

// Synthesize derives cross-question insights from the per-question
// aggregates: every theme that appears in at least two questions becomes
// one insight. Identical aggregates always produce identical insights,
// ids included.
func Synthesize(aggregates []models.QuestionAggregate) []models.CrossQuestionInsight {
	type themeEvidence struct {
		questions map[string]bool
		count     int
	}
	themes := make(map[string]*themeEvidence)

	for _, agg := range aggregates {
		for theme, count := range agg.ThemeCounts {
			ev := themes[theme]
			if ev == nil {
				ev = &themeEvidence{questions: make(map[string]bool)}
				themes[theme] = ev
			}
			ev.questions[agg.QuestionID] = true
			ev.count += count
		}
	}

	var insights []models.CrossQuestionInsight
	for theme, ev := range themes {
		if len(ev.questions) < 2 {
			continue
		}

		qids := make([]string, 0, len(ev.questions))
		for q := range ev.questions {
			qids = append(qids, q)
		}
		sort.Strings(qids)

		insights = append(insights, models.CrossQuestionInsight{
			InsightID:             insightID(theme),
			Theme:                 theme,
			Description:           fmt.Sprintf("theme %q raised across %d questions by %d responses", theme, len(qids), ev.count),
			SupportingQuestionIDs: qids,
			EvidenceCount:         ev.count,
			Confidence:            confidence(len(qids), ev.count),
		})
	}

	sort.Slice(insights, func(i, j int) bool {
		if insights[i].EvidenceCount != insights[j].EvidenceCount {
			return insights[i].EvidenceCount > insights[j].EvidenceCount
		}
		return insights[i].Theme < insights[j].Theme
	})
	return insights
}

// insightID is a content digest of the normalized theme, so the same
// theme gets the same id on every run.
func insightID(theme string) string {
	h := sha256.Sum256([]byte(theme))
	return fmt.Sprintf("xq-%x", h[:6])
}

// confidence grows monotonically with both question spread and evidence
// volume, approaching but never reaching 1.
func confidence(questionCount, evidenceCount int) float64 {
	spread := 1 - math.Pow(0.7, float64(questionCount))
	volume := 1 - math.Pow(0.97, float64(evidenceCount))
	return spread * volume
}
