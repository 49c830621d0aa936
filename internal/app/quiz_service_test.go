package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skillquiz-service/internal/analytics"
	"skillquiz-service/internal/app"
	"skillquiz-service/internal/domain"
)

func TestLocalFallbackScoring(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	id := service.Create(domain.Profile{})

	view, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, view.Status)
	require.Len(t, view.Responses, 4)

	_, err = service.Answer(ctx, id, 0, 0)
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 1, 2)
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 2, 2)
	require.NoError(t, err)

	result, err := service.Complete(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.SourceLocal, result.SourceOfTruth)
	require.Equal(t, 50, result.FinalScore)
	require.Equal(t, []string{"types", "concurrency"}, result.WeakAreas)
	require.Len(t, result.Responses, 4)
	_, answered := result.Responses[3].Index()
	require.False(t, answered)
}

func TestReansweringGradesLastAnswer(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	id := service.Create(domain.Profile{})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)

	_, err = service.Answer(ctx, id, 3, 0)
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 3, 3)
	require.NoError(t, err)

	result, err := service.Complete(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 25, result.FinalScore)
	require.True(t, result.Responses[3].Matches(3))
	require.Equal(t, []string{"syntax", "types"}, result.WeakAreas)
}

func TestRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	id := service.Create(domain.Profile{})

	_, err := service.Start(ctx, id, "cobol")
	require.ErrorIs(t, err, domain.ErrInvalidSubject)
	view, err := service.View(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNotStarted, view.Status)

	_, err = service.Answer(ctx, id, 0, 0)
	require.ErrorIs(t, err, domain.ErrSessionNotInProgress)

	_, err = service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 0, 1)
	require.NoError(t, err)

	_, err = service.Answer(ctx, id, 0, 4)
	require.ErrorIs(t, err, domain.ErrOutOfRangeAnswer)
	_, err = service.Answer(ctx, id, 0, -1)
	require.ErrorIs(t, err, domain.ErrOutOfRangeAnswer)
	_, err = service.Answer(ctx, id, 4, 0)
	require.ErrorIs(t, err, domain.ErrPositionOutOfRange)

	view, err = service.View(id)
	require.NoError(t, err)
	require.True(t, view.Responses[0].Matches(1), "rejected answers must leave state unchanged")

	_, err = service.Start(ctx, id, "go")
	require.ErrorIs(t, err, domain.ErrSessionAlreadyStarted)

	_, err = service.Complete(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCompleteTwiceReturnsCachedResult(t *testing.T) {
	ctx := context.Background()
	analytics := &fakeAnalytics{final: domain.FinalAnalytics{
		FinalScore: 72,
		WeakAreas:  []string{"types"},
		Snapshot:   domain.AnalyticsSnapshot{KnowledgeScore: 72, MasteryLevel: "Proficient"},
	}}
	service := newTestService(app.WithAnalytics(analytics))
	id := service.Create(domain.Profile{ID: "u1", Name: "Alice"})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 0, 0)
	require.NoError(t, err)

	first, err := service.Complete(ctx, id)
	require.NoError(t, err)
	second, err := service.Complete(ctx, id)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, domain.SourceAnalytics, first.SourceOfTruth)
	require.Equal(t, 72, first.FinalScore)
	require.Equal(t, []string{"types"}, first.WeakAreas)

	_, finalized := analytics.recorded()
	require.Equal(t, 1, finalized)

	_, err = service.Answer(ctx, id, 1, 1)
	require.ErrorIs(t, err, domain.ErrSessionNotInProgress)
}

func TestAnalyticsWeakAreasCappedInOrder(t *testing.T) {
	ctx := context.Background()
	analytics := &fakeAnalytics{final: domain.FinalAnalytics{
		FinalScore: 40,
		WeakAreas:  []string{"a", "b", "a", "c", "d", "e", "f", "g"},
	}}
	service := newTestService(app.WithAnalytics(analytics))
	id := service.Create(domain.Profile{})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)

	result, err := service.Complete(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, result.WeakAreas)
}

func TestAnalyticsFailuresFallBackToLocalScoring(t *testing.T) {
	cases := map[string]*fakeAnalytics{
		"open fails":     {openErr: errBoom},
		"finalize fails": {finalizeErr: errBoom},
		"submit fails":   {submitErr: errBoom, finalizeErr: errBoom},
		"score invalid":  {final: domain.FinalAnalytics{FinalScore: 140}},
	}
	for name, analytics := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			service := newTestService(app.WithAnalytics(analytics))
			id := service.Create(domain.Profile{})
			_, err := service.Start(ctx, id, "go")
			require.NoError(t, err)

			for i := 0; i < 4; i++ {
				_, err := service.Answer(ctx, id, i, i)
				require.NoError(t, err)
			}

			result, err := service.Complete(ctx, id)
			require.NoError(t, err)
			require.Equal(t, domain.SourceLocal, result.SourceOfTruth)
			require.Equal(t, 100, result.FinalScore)
			require.Empty(t, result.WeakAreas)
		})
	}
}

func TestAnalyticsEventsKeepAnswerOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	analytics := &fakeAnalytics{
		delays: []time.Duration{40 * time.Millisecond, 0, 10 * time.Millisecond, 0},
		final:  domain.FinalAnalytics{FinalScore: 10},
	}
	service := newTestService(app.WithAnalytics(analytics), app.WithClock(clock.Now))
	id := service.Create(domain.Profile{ID: "u1"})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)

	clock.Advance(7 * time.Second)
	_, err = service.Answer(ctx, id, 0, 1)
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 2, 2)
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 1, 1)
	require.NoError(t, err)
	clock.Advance(3 * time.Second)
	_, err = service.Answer(ctx, id, 1, 0)
	require.NoError(t, err)

	_, err = service.Complete(ctx, id)
	require.NoError(t, err)

	events, finalized := analytics.recorded()
	require.Equal(t, 1, finalized)
	require.Len(t, events, 4)
	require.Equal(t, []string{"q0", "q2", "q1", "q1"}, []string{events[0].QuestionText, events[1].QuestionText, events[2].QuestionText, events[3].QuestionText})
	require.Equal(t, "b", events[0].ChosenOptionText)
	require.Equal(t, "a", events[0].CorrectOptionText)
	require.Equal(t, "syntax", events[0].Category)
	require.Equal(t, 0.5, events[0].DifficultyWeight)
	require.InDelta(t, 7.0, events[0].ElapsedSeconds, 0.001)
	require.InDelta(t, 0.0, events[1].ElapsedSeconds, 0.001, "jumping to another question starts a fresh visit")
	require.InDelta(t, 3.0, events[3].ElapsedSeconds, 0.001)
}

func TestAnalyticsSnapshotPublished(t *testing.T) {
	ctx := context.Background()
	analytics := &fakeAnalytics{final: domain.FinalAnalytics{FinalScore: 10}}
	service := newTestService(app.WithAnalytics(analytics))
	id := service.Create(domain.Profile{})
	events, cancel, err := service.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	_, err = service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 0, 0)
	require.NoError(t, err)

	ev, ok := waitFor(events, domain.EventAnalytics, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, []string{"syntax"}, ev.Analytics.WeakAreas)

	view, err := service.View(id)
	require.NoError(t, err)
	require.NotNil(t, view.Analytics)
}

func TestDeadlineForcesCompletionOnce(t *testing.T) {
	ctx := context.Background()
	results := &fakeResults{}
	service := newTestService(
		app.WithTiming(60*time.Millisecond, 10*time.Millisecond, time.Second),
		app.WithResultStore(results),
	)
	id := service.Create(domain.Profile{ID: "u1", Name: "Alice"})
	events, cancel, err := service.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	_, err = service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 0, 0)
	require.NoError(t, err)
	_, err = service.Navigate(id, 2)
	require.NoError(t, err)

	ev, ok := waitFor(events, domain.EventCompleted, 2*time.Second)
	require.True(t, ok, "expected forced completion")
	require.Equal(t, domain.TriggerDeadline, ev.Result.Trigger)
	require.Equal(t, 25, ev.Result.FinalScore)

	_, more := waitFor(events, domain.EventCompleted, 150*time.Millisecond)
	require.False(t, more, "deadline must complete exactly once")

	result, err := service.Complete(ctx, id)
	require.NoError(t, err)
	require.Equal(t, *ev.Result, result)

	require.Eventually(t, func() bool {
		_, calls := results.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	saved, _ := results.snapshot()
	require.Len(t, saved, 1)
	require.Equal(t, 25, saved[0].Score)
	require.Equal(t, 4, saved[0].TotalQuestions)
}

func TestResetCancelsDeadline(t *testing.T) {
	ctx := context.Background()
	service := newTestService(app.WithTiming(50*time.Millisecond, 10*time.Millisecond, time.Second))
	id := service.Create(domain.Profile{})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)

	require.NoError(t, service.Reset(id))
	time.Sleep(120 * time.Millisecond)

	view, err := service.View(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNotStarted, view.Status)
	_, err = service.Result(id)
	require.ErrorIs(t, err, domain.ErrResultNotReady)
}

func TestRestartStopsPreviousTimer(t *testing.T) {
	ctx := context.Background()
	service := newTestService(app.WithTiming(300*time.Millisecond, 10*time.Millisecond, time.Second))
	id := service.Create(domain.Profile{})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	_, err = service.Restart(ctx, id, "go")
	require.NoError(t, err)

	// Past the first deadline but well before the second.
	time.Sleep(170 * time.Millisecond)
	view, err := service.View(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, view.Status)

	require.Eventually(t, func() bool {
		v, _ := service.View(id)
		return v.Status == domain.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResetDiscardsInflightAnalytics(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	analytics := &fakeAnalytics{block: release, final: domain.FinalAnalytics{FinalScore: 10}}
	service := newTestService(app.WithAnalytics(analytics))
	id := service.Create(domain.Profile{})

	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 0, 0)
	require.NoError(t, err)

	_, err = service.Restart(ctx, id, "go")
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		events, _ := analytics.recorded()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	view, err := service.View(id)
	require.NoError(t, err)
	require.Nil(t, view.Analytics, "a result from the previous run must not reach the restarted session")
	_, answered := view.Responses[0].Index()
	require.False(t, answered)
}

func TestNavigation(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	id := service.Create(domain.Profile{})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)

	view, err := service.Prev(id)
	require.NoError(t, err)
	require.Equal(t, 0, view.CurrentPosition)

	view, err = service.Navigate(id, 3)
	require.NoError(t, err)
	require.Equal(t, 3, view.CurrentPosition)
	require.Equal(t, "q3", view.Question.Prompt)

	view, err = service.Prev(id)
	require.NoError(t, err)
	require.Equal(t, 2, view.CurrentPosition)

	_, err = service.Navigate(id, 9)
	require.ErrorIs(t, err, domain.ErrPositionOutOfRange)

	view, result, err := service.Next(ctx, id)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 3, view.CurrentPosition)

	view, result, err = service.Next(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, result, "next on the last question completes the session")
	require.Equal(t, domain.StatusCompleted, view.Status)
	require.Equal(t, 0, result.FinalScore)
	require.Equal(t, []string{"syntax", "types", "concurrency"}, result.WeakAreas)
}

func TestSaveAndCertificate(t *testing.T) {
	ctx := context.Background()
	results := &fakeResults{err: errBoom}
	certs := &fakeCertificates{}
	service := newTestService(app.WithResultStore(results), app.WithCertificates(certs))
	id := service.Create(domain.Profile{ID: "u1", Name: "Alice"})
	events, cancel, err := service.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	err = service.Save(ctx, id)
	require.ErrorIs(t, err, domain.ErrResultNotReady)

	_, err = service.Start(ctx, id, "go")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := service.Answer(ctx, id, i, i)
		require.NoError(t, err)
	}
	result, err := service.Complete(ctx, id)
	require.NoError(t, err)

	notice, ok := waitFor(events, domain.EventNotice, time.Second)
	require.True(t, ok)
	require.Contains(t, notice.Notice, "Could not save")

	results.setErr(nil)
	require.NoError(t, service.Save(ctx, id))
	require.NoError(t, service.Save(ctx, id))
	saved, calls := results.snapshot()
	require.Equal(t, 2, calls, "one automatic failure, one explicit retry")
	require.Equal(t, []domain.SkillResult{{UserID: "u1", Subject: "go", Score: 100, WeakAreas: []string{}, TotalQuestions: 4}}, saved)

	again, err := service.Result(id)
	require.NoError(t, err)
	require.Equal(t, result, again, "persistence failures never touch the result")

	png, err := service.Certificate(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("png"), png)
	require.Equal(t, "Alice", certs.req.UserName)
	require.Equal(t, 100, certs.req.Score)
	require.Equal(t, "go", certs.req.Subject)
}

func TestAnonymousCannotSaveOrCertify(t *testing.T) {
	ctx := context.Background()
	results := &fakeResults{}
	service := newTestService(app.WithResultStore(results), app.WithCertificates(&fakeCertificates{}))
	id := service.Create(domain.Profile{})
	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Complete(ctx, id)
	require.NoError(t, err)

	require.ErrorIs(t, service.Save(ctx, id), domain.ErrProfileRequired)
	_, err = service.Certificate(ctx, id)
	require.True(t, errors.Is(err, domain.ErrProfileRequired))
	_, calls := results.snapshot()
	require.Zero(t, calls)
}

func TestAbandonDropsSession(t *testing.T) {
	ctx := context.Background()
	service := newTestService(app.WithTiming(40*time.Millisecond, 10*time.Millisecond, time.Second))
	id := service.Create(domain.Profile{})
	events, cancel, err := service.Subscribe(id)
	require.NoError(t, err)
	defer cancel()
	_, err = service.Start(ctx, id, "go")
	require.NoError(t, err)

	service.Abandon(id)
	_, err = service.View(id)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, ok := waitFor(events, domain.EventCompleted, 150*time.Millisecond)
	require.False(t, ok)
}

func TestQuestionCountLimitsBattery(t *testing.T) {
	ctx := context.Background()
	service := newTestService(app.WithQuestionCount(2))
	id := service.Create(domain.Profile{})
	view, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	require.Equal(t, 2, view.TotalQuestions)
	require.Len(t, view.Responses, 2)
}

func TestDeadlineScoresUnansweredQuestionsWithAnalytics(t *testing.T) {
	ctx := context.Background()
	tracker := analytics.NewTracker()
	service := newTestService(
		app.WithAnalytics(tracker),
		app.WithTiming(100*time.Millisecond, 20*time.Millisecond, time.Second),
	)
	id := service.Create(domain.Profile{ID: "u1"})
	events, cancel, err := service.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	_, err = service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Answer(ctx, id, 0, 0)
	require.NoError(t, err)

	ev, ok := waitFor(events, domain.EventCompleted, 2*time.Second)
	require.True(t, ok, "expected forced completion")
	require.Equal(t, domain.TriggerDeadline, ev.Result.Trigger)
	require.Equal(t, domain.SourceAnalytics, ev.Result.SourceOfTruth)
	require.Less(t, ev.Result.FinalScore, 50)
	require.Contains(t, ev.Result.WeakAreas, "types")
	require.Contains(t, ev.Result.WeakAreas, "concurrency")
	require.Equal(t, 0, tracker.Open())
}

func TestAnalyticsSessionsReleasedOnRestartAndAbandon(t *testing.T) {
	ctx := context.Background()
	tracker := analytics.NewTracker()
	service := newTestService(app.WithAnalytics(tracker))
	id := service.Create(domain.Profile{ID: "u1"})

	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Restart(ctx, id, "go")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tracker.Open() == 1 }, time.Second, 5*time.Millisecond)

	_, err = service.Start(ctx, id, "go")
	require.ErrorIs(t, err, domain.ErrSessionAlreadyStarted)
	require.Equal(t, 1, tracker.Open())

	service.Abandon(id)
	require.Eventually(t, func() bool { return tracker.Open() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFailedFinalizeDiscardsAnalyticsSession(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalytics{finalizeErr: errors.New("down")}
	service := newTestService(app.WithAnalytics(fa))
	id := service.Create(domain.Profile{ID: "u1"})

	_, err := service.Start(ctx, id, "go")
	require.NoError(t, err)
	_, err = service.Start(ctx, id, "go")
	require.ErrorIs(t, err, domain.ErrSessionAlreadyStarted)
	fa.mu.Lock()
	opened := fa.opened
	fa.mu.Unlock()
	require.Equal(t, 1, opened)

	result, err := service.Complete(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.SourceLocal, result.SourceOfTruth)
	require.Eventually(t, func() bool { return fa.discards() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, service.Reset(id))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, fa.discards())
}

func TestViewReportsRemainingSeconds(t *testing.T) {
	ctx := context.Background()
	service := newTestService(app.WithTiming(time.Minute, time.Hour, time.Second))
	id := service.Create(domain.Profile{})

	view, err := service.View(id)
	require.NoError(t, err)
	require.Zero(t, view.Remaining)

	view, err = service.Start(ctx, id, "go")
	require.NoError(t, err)
	require.Greater(t, view.Remaining, 55)
	require.LessOrEqual(t, view.Remaining, 60)

	_, err = service.Complete(ctx, id)
	require.NoError(t, err)
	view, err = service.View(id)
	require.NoError(t, err)
	require.Zero(t, view.Remaining)
}
