package domain

import (
	"fmt"
	"time"
)

// Question models an MCQ question with exactly one correct option.
type Question struct {
	Prompt       string   `json:"prompt" yaml:"prompt"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correctIndex" yaml:"correct"`
	Category     string   `json:"category" yaml:"category"`
}

// Validate checks the option count and the correct index bounds.
func (q Question) Validate() error {
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: %q has %d options", ErrInvalidQuestion, q.Prompt, len(q.Options))
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("%w: %q correct index %d", ErrInvalidQuestion, q.Prompt, q.CorrectIndex)
	}
	return nil
}

// CorrectOption returns the text of the correct option.
func (q Question) CorrectOption() string {
	return q.Options[q.CorrectIndex]
}

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// SourceOfTruth records which scoring path produced a result.
type SourceOfTruth string

const (
	SourceAnalytics SourceOfTruth = "analytics"
	SourceLocal     SourceOfTruth = "local_fallback"
)

// Trigger records what completed a session.
type Trigger string

const (
	TriggerUser     Trigger = "user"
	TriggerDeadline Trigger = "deadline"
)

// Profile is the authenticated user attached to a session. A zero ID means anonymous.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Authenticated reports whether the profile belongs to a signed-in user.
func (p Profile) Authenticated() bool {
	return p.ID != ""
}

// ResponseEvent is what the analytics collaborator receives for each answer.
type ResponseEvent struct {
	QuestionText      string  `json:"questionText"`
	ChosenOptionText  string  `json:"chosenOptionText"`
	CorrectOptionText string  `json:"correctOptionText"`
	Category          string  `json:"category"`
	ElapsedSeconds    float64 `json:"elapsedSeconds"`
	DifficultyWeight  float64 `json:"difficultyWeight"`
}

// AnalyticsSnapshot is the analytics view after a response. Display only.
type AnalyticsSnapshot struct {
	KnowledgeScore   int      `json:"knowledgeScore"`
	MasteryLevel     string   `json:"masteryLevel"`
	LearningVelocity int      `json:"learningVelocity"`
	RetentionRate    int      `json:"retentionRate"`
	WeakAreas        []string `json:"weakAreas"`
}

// FinalAnalytics is returned when an analytics session is finalized.
type FinalAnalytics struct {
	FinalScore int               `json:"finalScore"`
	WeakAreas  []string          `json:"weakAreas"`
	Snapshot   AnalyticsSnapshot `json:"snapshot"`
}

// SessionView is a read-only copy of a session's user-facing state.
type SessionView struct {
	ID              string             `json:"id"`
	Subject         string             `json:"subject"`
	Status          Status             `json:"status"`
	CurrentPosition int                `json:"currentPosition"`
	TotalQuestions  int                `json:"totalQuestions"`
	Responses       []Answer           `json:"responses"`
	Deadline        time.Time          `json:"deadline"`
	// Remaining is whole seconds left on the countdown, zero unless in progress.
	Remaining       int                `json:"remaining"`
	Analytics       *AnalyticsSnapshot `json:"analytics,omitempty"`
	Question        *Question          `json:"question,omitempty"`
}

// QuizResult is produced exactly once per session, at completion.
type QuizResult struct {
	SessionID     string             `json:"sessionId"`
	Subject       string             `json:"subject"`
	FinalScore    int                `json:"finalScore"`
	WeakAreas     []string           `json:"weakAreas"`
	SourceOfTruth SourceOfTruth      `json:"sourceOfTruth"`
	Trigger       Trigger            `json:"trigger"`
	Questions     []Question         `json:"questions"`
	Responses     []Answer           `json:"responses"`
	Analytics     *AnalyticsSnapshot `json:"analytics,omitempty"`
	CompletedAt   time.Time          `json:"completedAt"`
}

// SkillResult is the record handed to the persistence collaborator.
type SkillResult struct {
	UserID         string
	Subject        string
	Score          int
	WeakAreas      []string
	TotalQuestions int
}

// CertificateRequest is the input of the certificate collaborator.
type CertificateRequest struct {
	UserName string
	Subject  string
	Score    int
	Date     time.Time
}

// CompletedEvent is published to result consumers after resolution.
type CompletedEvent struct {
	SessionID     string        `json:"sessionId"`
	UserID        string        `json:"userId"`
	Subject       string        `json:"subject"`
	Score         int           `json:"score"`
	WeakAreas     []string      `json:"weakAreas"`
	SourceOfTruth SourceOfTruth `json:"sourceOfTruth"`
	Trigger       Trigger       `json:"trigger"`
	CompletedAt   time.Time     `json:"completedAt"`
}

// EventType names a session event pushed to subscribers.
type EventType string

const (
	EventTick      EventType = "tick"
	EventAnalytics EventType = "analytics"
	EventCompleted EventType = "completed"
	EventNotice    EventType = "notice"
)

// Event is a session update delivered to subscribers.
type Event struct {
	Type      EventType          `json:"type"`
	Remaining int                `json:"remaining,omitempty"`
	Analytics *AnalyticsSnapshot `json:"analytics,omitempty"`
	Result    *QuizResult        `json:"result,omitempty"`
	Notice    string             `json:"notice,omitempty"`
}
