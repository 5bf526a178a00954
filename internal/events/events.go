package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted over the attempt lifecycle.
const (
	EventAttemptStarted   = "attempt.started"
	EventAttemptSubmitted = "attempt.submitted"
	EventAttemptExpired   = "attempt.expired"
	EventAttemptCancelled = "attempt.cancelled"
	EventAnswerGraded     = "attempt.answer_graded"
)

const (
	eventSource  = "attempt-service"
	eventVersion = "1.0"
)

// Event is the envelope published to the broker for every lifecycle change.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an envelope with a fresh ID and timestamp.
func NewEvent(eventType string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AttemptEvent is the payload for attempt lifecycle events.
type AttemptEvent struct {
	AttemptID    string  `json:"attempt_id"`
	AssignmentID string  `json:"assignment_id"`
	TestID       string  `json:"test_id"`
	UserID       *string `json:"user_id,omitempty"`
	GuestName    *string `json:"guest_name,omitempty"`
	Status       string  `json:"status"`
	Version      int     `json:"version"`
	Cursor       int     `json:"cursor"`
	Total        int     `json:"total"`
	Score        float64 `json:"score"`
	MaxScore     float64 `json:"max_score"`
	PendingCount int     `json:"pending_count"`
}

// AnswerGradedEvent is the payload for manual grading events.
type AnswerGradedEvent struct {
	AttemptID  string  `json:"attempt_id"`
	QuestionID string  `json:"question_id"`
	GradedBy   string  `json:"graded_by"`
	Score      float64 `json:"score"`
	Pending    int     `json:"pending"`
}
