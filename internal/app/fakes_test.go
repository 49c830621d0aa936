package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"skillquiz-service/internal/app"
	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/infra/memory"
)

var errBoom = errors.New("boom")

// fourQuestions has correct indices [0,1,2,3] and one category per question.
func fourQuestions() []domain.Question {
	return []domain.Question{
		{Prompt: "q0", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0, Category: "syntax"},
		{Prompt: "q1", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1, Category: "types"},
		{Prompt: "q2", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 2, Category: "syntax"},
		{Prompt: "q3", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 3, Category: "concurrency"},
	}
}

func newBank() *memory.QuestionRepository {
	return memory.NewQuestionRepository(memory.NewStaticQuestionLoader(map[string][]domain.Question{
		"go": fourQuestions(),
	}), time.Minute)
}

func newTestService(opts ...app.Option) *app.QuizService {
	return app.NewQuizService(memory.NewSessionStore(), newBank(), opts...)
}

type fakeAnalytics struct {
	mu          sync.Mutex
	openErr     error
	submitErr   error
	finalizeErr error
	final       domain.FinalAnalytics
	delays      []time.Duration
	block       chan struct{}

	opened    int
	events    []domain.ResponseEvent
	finalized int
	discarded int
}

func (f *fakeAnalytics) OpenSession(_ context.Context, userID, subject string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened++
	return userID + ":" + subject, nil
}

func (f *fakeAnalytics) SubmitResponse(_ context.Context, _ string, event domain.ResponseEvent) (domain.AnalyticsSnapshot, error) {
	f.mu.Lock()
	n := len(f.events)
	var delay time.Duration
	if n < len(f.delays) {
		delay = f.delays[n]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.submitErr != nil {
		return domain.AnalyticsSnapshot{}, f.submitErr
	}
	return domain.AnalyticsSnapshot{KnowledgeScore: len(f.events), MasteryLevel: "Learning", WeakAreas: []string{event.Category}}, nil
}

func (f *fakeAnalytics) FinalizeSession(_ context.Context, _ string) (domain.FinalAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
	if f.finalizeErr != nil {
		return domain.FinalAnalytics{}, f.finalizeErr
	}
	return f.final, nil
}

func (f *fakeAnalytics) DiscardSession(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded++
	return nil
}

func (f *fakeAnalytics) discards() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discarded
}

func (f *fakeAnalytics) recorded() ([]domain.ResponseEvent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ResponseEvent(nil), f.events...), f.finalized
}

type fakeResults struct {
	mu    sync.Mutex
	err   error
	saved []domain.SkillResult
	calls int
}

func (f *fakeResults) SaveSkillResult(_ context.Context, result domain.SkillResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, result)
	return nil
}

func (f *fakeResults) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeResults) snapshot() ([]domain.SkillResult, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SkillResult(nil), f.saved...), f.calls
}

type fakeCertificates struct {
	req domain.CertificateRequest
}

func (f *fakeCertificates) Render(_ context.Context, req domain.CertificateRequest) ([]byte, error) {
	f.req = req
	return []byte("png"), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitFor(ch <-chan domain.Event, typ domain.EventType, timeout time.Duration) (domain.Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return domain.Event{}, false
			}
			if ev.Type == typ {
				return ev, true
			}
		case <-deadline:
			return domain.Event{}, false
		}
	}
}
