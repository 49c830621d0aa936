package domain

import "errors"

var (
	// ErrInvalidSubject is returned when the question bank has no questions for a subject.
	ErrInvalidSubject = errors.New("no questions for subject")
	// ErrOutOfRangeAnswer indicates the selected option index is outside the question's options.
	ErrOutOfRangeAnswer = errors.New("answer option out of range")
	// ErrAnalyticsUnavailable wraps failures of the analytics collaborator. It never fails a quiz.
	ErrAnalyticsUnavailable = errors.New("analytics unavailable")
	// ErrPersistenceFailure wraps failures saving a result.
	ErrPersistenceFailure = errors.New("could not save result")

	// ErrSessionNotFound is returned when a quiz session has not been initialized.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionNotInProgress is returned for answer or navigation requests outside InProgress.
	ErrSessionNotInProgress = errors.New("quiz session not in progress")
	// ErrSessionAlreadyStarted is returned when starting a session that is not NotStarted.
	ErrSessionAlreadyStarted = errors.New("quiz session already started")
	// ErrPositionOutOfRange indicates a question position outside the session's battery.
	ErrPositionOutOfRange = errors.New("question position out of range")
	// ErrResultNotReady is returned when a result is requested before completion.
	ErrResultNotReady = errors.New("quiz result not ready")
	// ErrProfileRequired is returned when saving or certifying without an authenticated profile.
	ErrProfileRequired = errors.New("authenticated profile required")
	// ErrInvalidQuestion indicates malformed question bank content.
	ErrInvalidQuestion = errors.New("invalid question")
)
