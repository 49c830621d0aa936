package app

import (
	"context"
	"math"

	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/logger"
	"skillquiz-service/internal/metrics"
)

// MaxWeakAreas caps the weak areas reported on a result.
const MaxWeakAreas = 5

type resolution struct {
	score     int
	weakAreas []string
	source    domain.SourceOfTruth
	analytics *domain.AnalyticsSnapshot
}

// resolveScore finalizes the analytics session when one is open and falls back to local grading when
// it is absent or fails. Partial analytics state is never merged into the local score.
func resolveScore(ctx context.Context, tr *tracker, questions []domain.Question, responses []domain.Answer, log *logger.Logger) resolution {
	if tr != nil {
		final, err := tr.finalize(ctx)
		if err == nil && final.FinalScore >= 0 && final.FinalScore <= 100 {
			snapshot := final.Snapshot
			return resolution{
				score:     final.FinalScore,
				weakAreas: capWeakAreas(final.WeakAreas),
				source:    domain.SourceAnalytics,
				analytics: &snapshot,
			}
		}
		metrics.AnalyticsFailures.WithLabelValues("finalize").Inc()
		if err != nil {
			log.Warn("analytics finalize failed, scoring locally", "error", err)
		} else {
			log.Warn("analytics returned score out of range, scoring locally", "score", final.FinalScore)
		}
	}

	score, weak := gradeLocally(questions, responses)
	return resolution{score: score, weakAreas: weak, source: domain.SourceLocal}
}

// gradeLocally compares the latest answer in each slot with the correct index. Unanswered slots count
// as incorrect and contribute their category to the weak areas.
func gradeLocally(questions []domain.Question, responses []domain.Answer) (int, []string) {
	if len(questions) == 0 {
		return 0, []string{}
	}
	correct := 0
	missed := make([]string, 0, len(questions))
	for i, q := range questions {
		if i < len(responses) && responses[i].Matches(q.CorrectIndex) {
			correct++
			continue
		}
		missed = append(missed, q.Category)
	}
	score := int(math.Round(100 * float64(correct) / float64(len(questions))))
	return score, capWeakAreas(missed)
}

// capWeakAreas deduplicates preserving first-seen order and truncates to MaxWeakAreas.
func capWeakAreas(areas []string) []string {
	seen := make(map[string]struct{}, len(areas))
	out := make([]string, 0, MaxWeakAreas)
	for _, area := range areas {
		if _, ok := seen[area]; ok {
			continue
		}
		seen[area] = struct{}{}
		out = append(out, area)
		if len(out) == MaxWeakAreas {
			break
		}
	}
	return out
}
