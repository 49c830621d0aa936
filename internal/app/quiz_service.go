package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skillquiz-service/internal/config"
	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/logger"
	"skillquiz-service/internal/metrics"
)

// anonymousUser keys analytics sessions opened without a signed-in profile.
const anonymousUser = "anonymous"

// QuizService contains the quiz use cases.
type QuizService struct {
	sessions      SessionRepository
	bank          QuestionBank
	analytics     AnalyticsCollaborator
	results       ResultStore
	certificates  CertificateRenderer
	publisher     ResultPublisher
	log           *logger.Logger
	settings      sessionSettings
	questionCount int
}

// Option configures optional collaborators and timing.
type Option func(*QuizService)

// WithAnalytics enables the adaptive analytics path. Without it every session scores locally.
func WithAnalytics(a AnalyticsCollaborator) Option {
	return func(s *QuizService) { s.analytics = a }
}

func WithResultStore(r ResultStore) Option {
	return func(s *QuizService) { s.results = r }
}

func WithCertificates(c CertificateRenderer) Option {
	return func(s *QuizService) { s.certificates = c }
}

func WithPublisher(p ResultPublisher) Option {
	return func(s *QuizService) { s.publisher = p }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *QuizService) { s.log = l }
}

// WithTiming overrides the quiz duration, countdown tick and per-call analytics timeout.
func WithTiming(duration, tick, analyticsTimeout time.Duration) Option {
	return func(s *QuizService) {
		if duration > 0 {
			s.settings.duration = duration
		}
		if tick > 0 {
			s.settings.tick = tick
		}
		if analyticsTimeout > 0 {
			s.settings.analyticsTimeout = analyticsTimeout
		}
	}
}

// WithQuestionCount sets the battery size taken from the front of the subject's questions.
func WithQuestionCount(n int) Option {
	return func(s *QuizService) {
		if n > 0 {
			s.questionCount = n
		}
	}
}

// WithClock is for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.settings.now = now }
}

func NewQuizService(store SessionRepository, bank QuestionBank, opts ...Option) *QuizService {
	s := &QuizService{
		sessions:      store,
		bank:          bank,
		log:           logger.Nop(),
		settings:      defaultSessionSettings(),
		questionCount: config.DefaultQuestionCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a NotStarted session for the profile and returns its id.
func (s *QuizService) Create(profile domain.Profile) string {
	id := uuid.NewString()
	s.sessions.Put(newSession(id, profile, s.settings, s.log, s.onFinished))
	return id
}

// Start loads the subject's questions, opens an analytics session when possible and starts the countdown.
func (s *QuizService) Start(ctx context.Context, sessionID, subject string) (domain.SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}

	questions, err := s.bank.GetQuestions(ctx, subject)
	if err != nil {
		return domain.SessionView{}, err
	}
	if len(questions) == 0 {
		return domain.SessionView{}, fmt.Errorf("%w: %q", domain.ErrInvalidSubject, subject)
	}
	if len(questions) > s.questionCount {
		questions = questions[:s.questionCount]
	}
	questions = append([]domain.Question(nil), questions...)

	if session.Status() != domain.StatusNotStarted {
		return domain.SessionView{}, domain.ErrSessionAlreadyStarted
	}
	tr := s.openTracker(ctx, session.Profile(), subject, questions)
	view, err := session.start(subject, questions, tr)
	if err != nil {
		if tr != nil {
			tr.close()
		}
		return domain.SessionView{}, err
	}
	metrics.SessionsStarted.Inc()
	s.log.Info("quiz started", "session_id", sessionID, "user_id", session.Profile().ID, "subject", subject, "questions", len(questions), "analytics", tr != nil)
	return view, nil
}

// Restart resets the session and starts it again with a fresh countdown and analytics session.
func (s *QuizService) Restart(ctx context.Context, sessionID, subject string) (domain.SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	session.reset()
	return s.Start(ctx, sessionID, subject)
}

// Answer records the selected option for the question at position. Last write wins.
func (s *QuizService) Answer(_ context.Context, sessionID string, position, option int) (domain.SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	return session.recordAnswer(position, option)
}

func (s *QuizService) Navigate(sessionID string, position int) (domain.SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	return session.navigate(position)
}

func (s *QuizService) Prev(sessionID string) (domain.SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	return session.prev()
}

// Next advances to the following question. On the last question it completes the session and
// returns the result alongside the final view.
func (s *QuizService) Next(ctx context.Context, sessionID string) (domain.SessionView, *domain.QuizResult, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, nil, domain.ErrSessionNotFound
	}
	view, last, err := session.next()
	if err != nil || !last {
		return view, nil, err
	}
	result, err := session.complete(ctx)
	if err != nil {
		return domain.SessionView{}, nil, err
	}
	return session.View(), &result, nil
}

// Complete finishes the session. Repeated calls return the cached result.
func (s *QuizService) Complete(ctx context.Context, sessionID string) (domain.QuizResult, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.QuizResult{}, domain.ErrSessionNotFound
	}
	return session.complete(ctx)
}

// Reset cancels any running countdown and analytics work and returns the session to NotStarted.
func (s *QuizService) Reset(sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.reset()
	return nil
}

// Abandon cancels all work for the session and drops it from the store.
func (s *QuizService) Abandon(sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.reset()
	session.closeSubscribers()
	s.sessions.Delete(sessionID)
}

func (s *QuizService) View(sessionID string) (domain.SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	return session.View(), nil
}

func (s *QuizService) Result(sessionID string) (domain.QuizResult, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.QuizResult{}, domain.ErrSessionNotFound
	}
	return session.Result()
}

// Subscribe returns a channel of session events. The caller must invoke the returned cancel function.
func (s *QuizService) Subscribe(sessionID string) (<-chan domain.Event, func(), error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Save persists the result for the session's profile. A saved result is never written twice and a
// failed save is only retried by calling Save again.
func (s *QuizService) Save(ctx context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return s.save(ctx, session)
}

// Certificate renders the certificate for a completed session.
func (s *QuizService) Certificate(ctx context.Context, sessionID string) ([]byte, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.certificates == nil {
		return nil, errors.New("certificates not configured")
	}
	result, err := session.Result()
	if err != nil {
		return nil, err
	}
	profile := session.Profile()
	if !profile.Authenticated() {
		return nil, domain.ErrProfileRequired
	}
	return s.certificates.Render(ctx, domain.CertificateRequest{
		UserName: profile.Name,
		Subject:  result.Subject,
		Score:    result.FinalScore,
		Date:     s.settings.now(),
	})
}

func (s *QuizService) openTracker(ctx context.Context, profile domain.Profile, subject string, questions []domain.Question) *tracker {
	if s.analytics == nil {
		return nil
	}
	userID := profile.ID
	if userID == "" {
		userID = anonymousUser
	}

	openCtx, cancel := context.WithTimeout(ctx, s.settings.analyticsTimeout)
	defer cancel()
	token, err := s.analytics.OpenSession(openCtx, userID, subject)
	if err != nil || token == "" {
		metrics.AnalyticsFailures.WithLabelValues("open").Inc()
		s.log.Warn("analytics session not opened, scoring locally", "user_id", userID, "subject", subject, "error", err)
		return nil
	}
	tr := newTracker(s.analytics, token, s.settings.analyticsTimeout, s.log.With("user_id", userID, "subject", subject))

	if planner, ok := s.analytics.(AnalyticsPlanner); ok {
		if err := planner.PlanSession(openCtx, token, questions); err != nil {
			metrics.AnalyticsFailures.WithLabelValues("plan").Inc()
			s.log.Warn("analytics battery not planned, scoring locally", "user_id", userID, "subject", subject, "error", err)
			tr.close()
			return nil
		}
	}
	return tr
}

// onFinished runs once per resolved result: metrics, result event, then the automatic save.
func (s *QuizService) onFinished(session *Session, result domain.QuizResult) {
	metrics.SessionsCompleted.WithLabelValues(string(result.SourceOfTruth), string(result.Trigger)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.analyticsTimeout)
	defer cancel()

	if s.publisher != nil {
		err := s.publisher.PublishCompleted(ctx, domain.CompletedEvent{
			SessionID:     session.ID(),
			UserID:        session.Profile().ID,
			Subject:       result.Subject,
			Score:         result.FinalScore,
			WeakAreas:     result.WeakAreas,
			SourceOfTruth: result.SourceOfTruth,
			Trigger:       result.Trigger,
			CompletedAt:   result.CompletedAt,
		})
		if err != nil {
			s.log.Warn("publish completed event failed", "session_id", session.ID(), "error", err)
		}
	}

	if s.results != nil && session.Profile().Authenticated() {
		_ = s.save(ctx, session)
	}
}

func (s *QuizService) save(ctx context.Context, session *Session) error {
	if s.results == nil {
		return fmt.Errorf("%w: no result store configured", domain.ErrPersistenceFailure)
	}
	result, proceed, err := session.beginSave()
	if err != nil || !proceed {
		return err
	}

	err = s.results.SaveSkillResult(ctx, domain.SkillResult{
		UserID:         session.Profile().ID,
		Subject:        result.Subject,
		Score:          result.FinalScore,
		WeakAreas:      result.WeakAreas,
		TotalQuestions: len(result.Questions),
	})
	session.endSave(result, err == nil)
	if err != nil {
		metrics.PersistenceFailures.Inc()
		s.log.Warn("save result failed", "session_id", session.ID(), "user_id", session.Profile().ID, "error", err)
		session.notify("Could not save your results. Please try again.")
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	session.notify("Your quiz results have been saved to your dashboard.")
	return nil
}
