// Package analytics is an in-process adaptive mastery tracker. It estimates, per skill area, the
// probability that the learner knows the material and updates it after every response.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"skillquiz-service/internal/domain"
)

// ErrUnknownSession is returned for tokens that were never opened or are already finalized.
var ErrUnknownSession = errors.New("analytics session not found")

// velocityWindow is how many recent responses the learning velocity looks at.
const velocityWindow = 5

type session struct {
	userID  string
	subject string

	// order keeps skill areas in first-seen order so ties rank deterministically.
	order  []string
	skills map[string]*skillState

	history []float64 // knowledge estimate after each response
	results []bool

	retained, revisits int

	// battery holds the planned questions; nil until PlanSession. latest maps a planned prompt to
	// the correctness of its most recent answer.
	battery []plannedQuestion
	latest  map[string]bool
}

type plannedQuestion struct {
	prompt   string
	category string
}

// Tracker implements the analytics collaborator in memory.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*session)}
}

// OpenSession starts tracking and returns an opaque token owned by one quiz session.
func (t *Tracker) OpenSession(ctx context.Context, userID, subject string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[token] = &session{
		userID:  userID,
		subject: subject,
		skills:  make(map[string]*skillState),
	}
	return token, nil
}

// PlanSession registers the question battery so that the final score covers every question and
// skill areas never answered still rank as weak.
func (t *Tracker) PlanSession(ctx context.Context, token string, questions []domain.Question) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, token)
	}
	s.battery = make([]plannedQuestion, len(questions))
	s.latest = make(map[string]bool, len(questions))
	for i, q := range questions {
		s.battery[i] = plannedQuestion{prompt: q.Prompt, category: categoryOf(q.Category)}
	}
	return nil
}

// SubmitResponse folds one response into the skill estimates.
func (t *Tracker) SubmitResponse(ctx context.Context, token string, event domain.ResponseEvent) (domain.AnalyticsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnalyticsSnapshot{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if !ok {
		return domain.AnalyticsSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, token)
	}

	category := categoryOf(event.Category)
	skill, ok := s.skills[category]
	if !ok {
		skill = newSkillState(category)
		s.skills[category] = skill
		s.order = append(s.order, category)
	}

	correct := event.ChosenOptionText == event.CorrectOptionText
	if skill.lastCorrect != nil && *skill.lastCorrect {
		s.revisits++
		if correct {
			s.retained++
		}
	}
	skill.observe(correct, event.ElapsedSeconds, event.DifficultyWeight)

	if s.planned(event.QuestionText) {
		s.latest[event.QuestionText] = correct
	}
	s.results = append(s.results, correct)
	s.history = append(s.history, s.knowledge())
	return s.snapshot(), nil
}

// FinalizeSession closes the session and returns its aggregate score and ranked weak areas.
func (t *Tracker) FinalizeSession(ctx context.Context, token string) (domain.FinalAnalytics, error) {
	if err := ctx.Err(); err != nil {
		return domain.FinalAnalytics{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if !ok {
		return domain.FinalAnalytics{}, fmt.Errorf("%w: %s", ErrUnknownSession, token)
	}
	delete(t.sessions, token)

	snap := s.snapshot()
	return domain.FinalAnalytics{
		FinalScore: s.finalScore(),
		WeakAreas:  snap.WeakAreas,
		Snapshot:   snap,
	}, nil
}

// DiscardSession forgets a session that will not be finalized. Unknown tokens are ignored.
func (t *Tracker) DiscardSession(_ context.Context, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, token)
	return nil
}

// Open reports how many sessions are currently tracked.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// knowledge is the mean estimate across the skill areas seen so far.
func (s *session) knowledge() float64 {
	if len(s.skills) == 0 {
		return 0
	}
	var sum float64
	for _, sk := range s.skills {
		sum += sk.pKnown
	}
	return sum / float64(len(s.skills))
}

func (s *session) snapshot() domain.AnalyticsSnapshot {
	score := percent(s.knowledge())
	return domain.AnalyticsSnapshot{
		KnowledgeScore:   score,
		MasteryLevel:     masteryLevel(score),
		LearningVelocity: s.velocity(),
		RetentionRate:    s.retention(),
		WeakAreas:        s.weakAreas(),
	}
}

// velocity is the knowledge gain over the recent window, scaled so 50 means flat.
func (s *session) velocity() int {
	n := len(s.history)
	if n < 2 {
		return 50
	}
	from := n - 1 - velocityWindow
	if from < 0 {
		from = 0
	}
	delta := s.history[n-1] - s.history[from]
	return percent(0.5 + delta)
}

// retention is the share of revisited, previously correct skill areas answered correctly again.
// With no revisits yet it falls back to overall accuracy.
func (s *session) retention() int {
	if s.revisits == 0 {
		if len(s.results) == 0 {
			return 0
		}
		correct := 0
		for _, ok := range s.results {
			if ok {
				correct++
			}
		}
		return percent(float64(correct) / float64(len(s.results)))
	}
	return percent(float64(s.retained) / float64(s.revisits))
}

// weakAreas ranks weak skill areas, weakest first. Planned areas with no answers yet rank after
// the answered ones, in battery order.
func (s *session) weakAreas() []string {
	weak := make([]*skillState, 0, len(s.order))
	for _, c := range s.order {
		if sk := s.skills[c]; sk.pKnown < weakThreshold {
			weak = append(weak, sk)
		}
	}
	sort.SliceStable(weak, func(i, j int) bool {
		return weak[i].pKnown < weak[j].pKnown
	})
	out := make([]string, 0, len(weak))
	for _, sk := range weak {
		out = append(out, sk.category)
	}
	seen := make(map[string]bool, len(s.battery))
	for _, q := range s.battery {
		if _, answered := s.skills[q.category]; answered || seen[q.category] {
			continue
		}
		seen[q.category] = true
		out = append(out, q.category)
	}
	return out
}

// finalScore blends accuracy with the knowledge estimate. Once a battery is planned, accuracy is
// taken over every planned question and unanswered ones count as incorrect.
func (s *session) finalScore() int {
	var accuracy float64
	if len(s.battery) > 0 {
		correct := 0
		for _, ok := range s.latest {
			if ok {
				correct++
			}
		}
		accuracy = float64(correct) / float64(len(s.battery))
	} else {
		if len(s.results) == 0 {
			return 0
		}
		var correct, attempts int
		for _, sk := range s.skills {
			correct += sk.correct
			attempts += sk.attempts
		}
		accuracy = float64(correct) / float64(attempts)
	}
	score := 0.7*accuracy + 0.3*s.coverage()*s.knowledge()
	return int(math.Round(clamp(score, 0, 1) * 100))
}

func (s *session) planned(prompt string) bool {
	for _, q := range s.battery {
		if q.prompt == prompt {
			return true
		}
	}
	return false
}

// coverage is the share of planned questions answered at least once, 1 without a battery.
func (s *session) coverage() float64 {
	if len(s.battery) == 0 {
		return 1
	}
	return float64(len(s.latest)) / float64(len(s.battery))
}

func categoryOf(category string) string {
	if category == "" {
		return "general"
	}
	return category
}
