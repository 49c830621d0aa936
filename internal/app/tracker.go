package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/logger"
	"skillquiz-service/internal/metrics"
)

// difficultyWeight is sent with every response event.
const difficultyWeight = 0.5

// tracker owns one analytics session. A single goroutine drains its queue, so events reach the
// collaborator in answer order and finalize runs only after every earlier submit.
type tracker struct {
	client  AnalyticsCollaborator
	token   string
	timeout time.Duration
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue []trackerJob
	wake  chan struct{}

	// released is set once the collaborator session is finalized or discarded.
	released atomic.Bool
}

type trackerJob struct {
	event *domain.ResponseEvent
	apply func(domain.AnalyticsSnapshot)
	final chan finalReply
}

type finalReply struct {
	analytics domain.FinalAnalytics
	err       error
}

func newTracker(client AnalyticsCollaborator, token string, timeout time.Duration, log *logger.Logger) *tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &tracker{
		client:  client,
		token:   token,
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
	}
	go t.run()
	return t
}

// submit queues a response event without waiting for the collaborator.
func (t *tracker) submit(event domain.ResponseEvent, apply func(domain.AnalyticsSnapshot)) {
	t.enqueue(trackerJob{event: &event, apply: apply})
}

// finalize waits for every queued submit, then closes the analytics session.
func (t *tracker) finalize(ctx context.Context) (domain.FinalAnalytics, error) {
	reply := make(chan finalReply, 1)
	t.enqueue(trackerJob{final: reply})

	select {
	case r := <-reply:
		return r.analytics, r.err
	case <-ctx.Done():
		return domain.FinalAnalytics{}, fmt.Errorf("%w: finalize: %v", domain.ErrAnalyticsUnavailable, ctx.Err())
	case <-t.ctx.Done():
		return domain.FinalAnalytics{}, fmt.Errorf("%w: tracker closed", domain.ErrAnalyticsUnavailable)
	}
}

// close drops queued work and releases the collaborator session unless finalize already did.
// Results of in-flight calls are discarded. Safe to call more than once.
func (t *tracker) close() {
	t.cancel()
	t.release()
}

// release discards the collaborator session in the background.
func (t *tracker) release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.client.DiscardSession(ctx, t.token); err != nil {
			metrics.AnalyticsFailures.WithLabelValues("discard").Inc()
			t.log.Warn("analytics discard failed", "error", err)
		}
	}()
}

func (t *tracker) enqueue(job trackerJob) {
	t.mu.Lock()
	t.queue = append(t.queue, job)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *tracker) next() (trackerJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return trackerJob{}, false
	}
	job := t.queue[0]
	t.queue = t.queue[1:]
	return job, true
}

func (t *tracker) run() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.wake:
		}

		for {
			job, ok := t.next()
			if !ok {
				break
			}
			if t.ctx.Err() != nil {
				return
			}
			if job.final != nil {
				analytics, err := t.callFinalize()
				if err == nil {
					t.released.Store(true)
				}
				job.final <- finalReply{analytics: analytics, err: err}
				t.close()
				return
			}
			t.callSubmit(*job.event, job.apply)
		}
	}
}

func (t *tracker) callSubmit(event domain.ResponseEvent, apply func(domain.AnalyticsSnapshot)) {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	snapshot, err := t.client.SubmitResponse(ctx, t.token, event)
	if err != nil {
		metrics.AnalyticsFailures.WithLabelValues("submit").Inc()
		t.log.Warn("analytics submit failed", "category", event.Category, "error", err)
		return
	}
	if t.ctx.Err() != nil {
		return
	}
	if apply != nil {
		apply(snapshot)
	}
}

func (t *tracker) callFinalize() (domain.FinalAnalytics, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	analytics, err := t.client.FinalizeSession(ctx, t.token)
	if err != nil {
		return domain.FinalAnalytics{}, fmt.Errorf("%w: %v", domain.ErrAnalyticsUnavailable, err)
	}
	return analytics, nil
}
