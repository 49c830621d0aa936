package analytics

import "math"

// Knowledge tracing parameters per skill area.
const (
	priorKnown = 0.3
	learnRate  = 0.15
	slipRate   = 0.1
	guessRate  = 0.25

	// weakThreshold marks a skill area as weak while its knowledge estimate is below it.
	weakThreshold = 0.6

	// speedLimitSecs is the response time at which an answer earns no speed bonus.
	speedLimitSecs = 30.0
)

// skillState holds the running estimate for one skill area.
type skillState struct {
	category string
	pKnown   float64
	attempts int
	correct  int
	// lastCorrect is nil until the first attempt.
	lastCorrect *bool
}

func newSkillState(category string) *skillState {
	return &skillState{category: category, pKnown: priorKnown}
}

// observe applies one response and returns the new knowledge estimate.
// difficulty scales how much evidence a single response carries.
func (s *skillState) observe(correct bool, elapsedSecs, difficulty float64) float64 {
	s.attempts++
	if correct {
		s.correct++
	}

	var posterior float64
	if correct {
		num := s.pKnown * (1 - slipRate)
		posterior = num / (num + (1-s.pKnown)*guessRate)
	} else {
		num := s.pKnown * slipRate
		posterior = num / (num + (1-s.pKnown)*(1-guessRate))
	}

	weight := clamp(difficulty, 0.1, 1) * 2
	posterior = s.pKnown + (posterior-s.pKnown)*clamp(weight, 0, 1)

	learn := learnRate
	if correct {
		learn *= 0.5 + 0.5*speedScore(elapsedSecs)
	}
	s.pKnown = clamp(posterior+(1-posterior)*learn, 0.01, 0.99)

	c := correct
	s.lastCorrect = &c
	return s.pKnown
}

// speedScore is 1 for fast answers and falls linearly to 0 at speedLimitSecs.
func speedScore(elapsedSecs float64) float64 {
	if elapsedSecs <= 0 {
		return 1
	}
	ratio := elapsedSecs / speedLimitSecs
	switch {
	case ratio <= 0.25:
		return 1
	case ratio >= 1:
		return 0
	default:
		return 1 - (ratio-0.25)/0.75
	}
}

// masteryLevel maps a knowledge percentage to a display label.
func masteryLevel(score int) string {
	switch {
	case score >= 85:
		return "Expert"
	case score >= 70:
		return "Advanced"
	case score >= 50:
		return "Intermediate"
	case score >= 30:
		return "Beginner"
	default:
		return "Novice"
	}
}

func percent(v float64) int {
	return int(math.Round(clamp(v, 0, 1) * 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
