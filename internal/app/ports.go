package app

import (
	"context"

	"skillquiz-service/internal/domain"
)

// SessionRepository abstracts how quiz sessions are stored (in-memory, Redis, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// QuestionBank returns the ordered questions for a subject. An empty slice means the subject is unknown.
type QuestionBank interface {
	GetQuestions(ctx context.Context, subject string) ([]domain.Question, error)
}

// AnalyticsCollaborator tracks per-response mastery. Any call may fail; the engine then scores locally.
type AnalyticsCollaborator interface {
	OpenSession(ctx context.Context, userID, subject string) (string, error)
	SubmitResponse(ctx context.Context, token string, event domain.ResponseEvent) (domain.AnalyticsSnapshot, error)
	FinalizeSession(ctx context.Context, token string) (domain.FinalAnalytics, error)
	// DiscardSession releases a session that will never be finalized (reset, restart, abandon).
	DiscardSession(ctx context.Context, token string) error
}

// AnalyticsPlanner is implemented by collaborators that grade against the whole battery, so that
// questions never answered still count against the final score and weak areas.
type AnalyticsPlanner interface {
	PlanSession(ctx context.Context, token string, questions []domain.Question) error
}

// ResultStore persists completed results for authenticated users.
type ResultStore interface {
	SaveSkillResult(ctx context.Context, result domain.SkillResult) error
}

// CertificateRenderer produces a downloadable certificate artifact.
type CertificateRenderer interface {
	Render(ctx context.Context, req domain.CertificateRequest) ([]byte, error)
}

// ResultPublisher notifies downstream consumers that a session completed.
type ResultPublisher interface {
	PublishCompleted(ctx context.Context, event domain.CompletedEvent) error
}
