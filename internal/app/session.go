package app

import (
	"context"
	"math"
	"sync"
	"time"

	"skillquiz-service/internal/config"
	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/logger"
)

// sessionSettings are fixed for the lifetime of a session.
type sessionSettings struct {
	duration         time.Duration
	tick             time.Duration
	analyticsTimeout time.Duration
	now              func() time.Time
}

func defaultSessionSettings() sessionSettings {
	return sessionSettings{
		duration:         config.DefaultQuizDuration,
		tick:             config.DefaultTick,
		analyticsTimeout: config.DefaultAnalyticsTimeout,
		now:              time.Now,
	}
}

// Session is one user's assessment attempt: NotStarted -> InProgress -> Completed.
// Every generation (start after a reset) gets a fresh countdown and analytics tracker; callbacks
// from an older generation are ignored.
type Session struct {
	id       string
	profile  domain.Profile
	settings sessionSettings
	log      *logger.Logger
	finished func(*Session, domain.QuizResult)

	mu          sync.Mutex
	generation  uint64
	status      domain.Status
	subject     string
	questions   []domain.Question
	responses   []domain.Answer
	position    int
	shownAt     time.Time
	deadline    time.Time
	tracker     *tracker
	snapshot    *domain.AnalyticsSnapshot
	countdown   *Countdown
	result      *domain.QuizResult
	resolved    chan struct{}
	saved       bool
	saving      bool
	subscribers map[chan domain.Event]struct{}
}

// NewSession builds a NotStarted session with default timing and no completion hook.
func NewSession(id string, profile domain.Profile) *Session {
	return newSession(id, profile, defaultSessionSettings(), logger.Nop(), nil)
}

func newSession(id string, profile domain.Profile, settings sessionSettings, log *logger.Logger, finished func(*Session, domain.QuizResult)) *Session {
	return &Session{
		id:          id,
		profile:     profile,
		settings:    settings,
		log:         log.With("session_id", id),
		finished:    finished,
		status:      domain.StatusNotStarted,
		subscribers: make(map[chan domain.Event]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Profile() domain.Profile {
	return s.profile
}

// Status returns the lifecycle state.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) start(subject string, questions []domain.Question, tr *tracker) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusNotStarted {
		return domain.SessionView{}, domain.ErrSessionAlreadyStarted
	}

	now := s.settings.now()
	s.generation++
	gen := s.generation
	s.status = domain.StatusInProgress
	s.subject = subject
	s.questions = questions
	s.responses = make([]domain.Answer, len(questions))
	s.position = 0
	s.shownAt = now
	s.deadline = now.Add(s.settings.duration)
	s.tracker = tr
	s.snapshot = nil
	s.result = nil
	s.resolved = make(chan struct{})
	s.countdown = NewCountdown(s.settings.duration, s.settings.tick,
		func(remaining time.Duration) { s.onTick(gen, remaining) },
		func() { s.expire(gen) },
	)
	s.countdown.Start()
	return s.viewLocked(), nil
}

// recordAnswer overwrites the slot at position. Answering a question other than the current one
// makes it current, starting a fresh visit.
func (s *Session) recordAnswer(position, option int) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.SessionView{}, domain.ErrSessionNotInProgress
	}
	if position < 0 || position >= len(s.questions) {
		return domain.SessionView{}, domain.ErrPositionOutOfRange
	}
	q := s.questions[position]
	if option < 0 || option >= len(q.Options) {
		return domain.SessionView{}, domain.ErrOutOfRangeAnswer
	}

	now := s.settings.now()
	elapsed := 0.0
	if position == s.position {
		elapsed = now.Sub(s.shownAt).Seconds()
	} else {
		s.position = position
		s.shownAt = now
	}
	s.responses[position] = domain.Answered(option)

	if s.tracker != nil {
		gen := s.generation
		s.tracker.submit(domain.ResponseEvent{
			QuestionText:      q.Prompt,
			ChosenOptionText:  q.Options[option],
			CorrectOptionText: q.CorrectOption(),
			Category:          q.Category,
			ElapsedSeconds:    elapsed,
			DifficultyWeight:  difficultyWeight,
		}, func(snapshot domain.AnalyticsSnapshot) {
			s.applySnapshot(gen, snapshot)
		})
	}
	return s.viewLocked(), nil
}

func (s *Session) navigate(position int) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.SessionView{}, domain.ErrSessionNotInProgress
	}
	if position < 0 || position >= len(s.questions) {
		return domain.SessionView{}, domain.ErrPositionOutOfRange
	}
	s.moveLocked(position)
	return s.viewLocked(), nil
}

// next advances one question. On the last question it reports last=true and leaves the cursor alone.
func (s *Session) next() (view domain.SessionView, last bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.SessionView{}, false, domain.ErrSessionNotInProgress
	}
	if s.position >= len(s.questions)-1 {
		return s.viewLocked(), true, nil
	}
	s.moveLocked(s.position + 1)
	return s.viewLocked(), false, nil
}

func (s *Session) prev() (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusInProgress {
		return domain.SessionView{}, domain.ErrSessionNotInProgress
	}
	if s.position > 0 {
		s.moveLocked(s.position - 1)
	}
	return s.viewLocked(), nil
}

func (s *Session) moveLocked(position int) {
	if position == s.position {
		return
	}
	s.position = position
	s.shownAt = s.settings.now()
}

func (s *Session) complete(ctx context.Context) (domain.QuizResult, error) {
	return s.finish(ctx, domain.TriggerUser, 0)
}

func (s *Session) expire(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.analyticsTimeout)
	defer cancel()
	if _, err := s.finish(ctx, domain.TriggerDeadline, gen); err != nil {
		s.log.Debug("deadline ignored", "error", err)
	}
}

// finish transitions InProgress -> Completed and resolves the score exactly once. gen pins the call to
// a specific generation; zero means the current one. Later calls wait for and return the cached result.
func (s *Session) finish(ctx context.Context, trigger domain.Trigger, gen uint64) (domain.QuizResult, error) {
	s.mu.Lock()
	if gen != 0 && gen != s.generation {
		s.mu.Unlock()
		return domain.QuizResult{}, domain.ErrSessionNotInProgress
	}
	switch s.status {
	case domain.StatusNotStarted:
		s.mu.Unlock()
		return domain.QuizResult{}, domain.ErrSessionNotInProgress
	case domain.StatusCompleted:
		if gen != 0 {
			s.mu.Unlock()
			return domain.QuizResult{}, domain.ErrSessionNotInProgress
		}
		done, current := s.resolved, s.generation
		s.mu.Unlock()
		return s.awaitResult(ctx, done, current)
	}

	gen = s.generation
	s.status = domain.StatusCompleted
	s.countdown.Cancel()
	questions := s.questions
	responses := append([]domain.Answer(nil), s.responses...)
	tr := s.tracker
	done := s.resolved
	subject := s.subject
	s.mu.Unlock()

	res := resolveScore(ctx, tr, questions, responses, s.log)
	if tr != nil {
		tr.close()
	}
	result := domain.QuizResult{
		SessionID:     s.id,
		Subject:       subject,
		FinalScore:    res.score,
		WeakAreas:     res.weakAreas,
		SourceOfTruth: res.source,
		Trigger:       trigger,
		Questions:     questions,
		Responses:     responses,
		Analytics:     res.analytics,
		CompletedAt:   s.settings.now(),
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		close(done)
		return domain.QuizResult{}, domain.ErrSessionNotInProgress
	}
	s.result = &result
	if res.analytics != nil {
		s.snapshot = res.analytics
	}
	completed := cloneResult(result)
	s.broadcastLocked(domain.Event{Type: domain.EventCompleted, Result: &completed})
	s.mu.Unlock()
	close(done)

	s.log.Info("quiz completed", "subject", subject, "score", result.FinalScore, "source", result.SourceOfTruth, "trigger", trigger)
	if s.finished != nil {
		s.finished(s, cloneResult(result))
	}
	return cloneResult(result), nil
}

func (s *Session) awaitResult(ctx context.Context, done <-chan struct{}, gen uint64) (domain.QuizResult, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return domain.QuizResult{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.result == nil {
		return domain.QuizResult{}, domain.ErrSessionNotInProgress
	}
	return cloneResult(*s.result), nil
}

// reset cancels the countdown and analytics work and returns the session to NotStarted.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown != nil {
		s.countdown.Cancel()
	}
	if s.tracker != nil {
		s.tracker.close()
	}
	s.generation++
	s.status = domain.StatusNotStarted
	s.subject = ""
	s.questions = nil
	s.responses = nil
	s.position = 0
	s.shownAt = time.Time{}
	s.deadline = time.Time{}
	s.tracker = nil
	s.snapshot = nil
	s.countdown = nil
	s.result = nil
	s.resolved = nil
	s.saved = false
	s.saving = false
}

func (s *Session) onTick(gen uint64, remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.status != domain.StatusInProgress {
		return
	}
	s.broadcastLocked(domain.Event{Type: domain.EventTick, Remaining: int(math.Ceil(remaining.Seconds()))})
}

func (s *Session) applySnapshot(gen uint64, snapshot domain.AnalyticsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.status != domain.StatusInProgress {
		return
	}
	s.snapshot = cloneSnapshot(&snapshot)
	s.broadcastLocked(domain.Event{Type: domain.EventAnalytics, Analytics: cloneSnapshot(&snapshot)})
}

func (s *Session) notify(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(domain.Event{Type: domain.EventNotice, Notice: message})
}

// beginSave claims the single save of a result. proceed is false when it is already saved or saving.
func (s *Session) beginSave() (result domain.QuizResult, proceed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.QuizResult{}, false, domain.ErrResultNotReady
	}
	if !s.profile.Authenticated() {
		return domain.QuizResult{}, false, domain.ErrProfileRequired
	}
	if s.saved || s.saving {
		return cloneResult(*s.result), false, nil
	}
	s.saving = true
	return cloneResult(*s.result), true, nil
}

func (s *Session) endSave(result domain.QuizResult, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil || s.result.CompletedAt != result.CompletedAt {
		return
	}
	s.saving = false
	if ok {
		s.saved = true
	}
}

// View returns a copy of the user-facing state.
func (s *Session) View() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Result returns the immutable result once the session has been resolved.
func (s *Session) Result() (domain.QuizResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.QuizResult{}, domain.ErrResultNotReady
	}
	return cloneResult(*s.result), nil
}

func (s *Session) viewLocked() domain.SessionView {
	view := domain.SessionView{
		ID:              s.id,
		Subject:         s.subject,
		Status:          s.status,
		CurrentPosition: s.position,
		TotalQuestions:  len(s.questions),
		Responses:       append([]domain.Answer(nil), s.responses...),
		Deadline:        s.deadline,
		Analytics:       cloneSnapshot(s.snapshot),
	}
	if s.status == domain.StatusInProgress && s.countdown != nil {
		view.Remaining = int(math.Ceil(s.countdown.Remaining().Seconds()))
	}
	if s.status == domain.StatusInProgress && s.position < len(s.questions) {
		q := s.questions[s.position]
		view.Question = &q
	}
	return view
}

func (s *Session) subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) broadcastLocked(event domain.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest event so a slow reader never blocks the engine.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

func cloneResult(r domain.QuizResult) domain.QuizResult {
	r.WeakAreas = append([]string{}, r.WeakAreas...)
	r.Questions = append([]domain.Question(nil), r.Questions...)
	r.Responses = append([]domain.Answer(nil), r.Responses...)
	r.Analytics = cloneSnapshot(r.Analytics)
	return r
}

func cloneSnapshot(s *domain.AnalyticsSnapshot) *domain.AnalyticsSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.WeakAreas = append([]string(nil), s.WeakAreas...)
	return &out
}
