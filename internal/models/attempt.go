package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptActive    AttemptStatus = "active"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptExpired   AttemptStatus = "expired"
	AttemptCancelled AttemptStatus = "cancelled"
)

// TestAttempt is the server-authoritative record of one participant working
// through an assignment. Version increments on every persisted mutation and
// is the optimistic-concurrency token clients must echo back.
type TestAttempt struct {
	ID           string `json:"id" gorm:"primaryKey;size:36"`
	AssignmentID string `json:"assignment_id" gorm:"not null;index;size:36"`
	TestID       string `json:"test_id" gorm:"not null;index;size:36"`

	// Participant identity: a registered user, or a guest described by name,
	// collected fields, client IP and browser fingerprint.
	UserID      *string        `json:"user_id" gorm:"index;size:255"`
	GuestName   *string        `json:"guest_name" gorm:"size:120"`
	Fields      datatypes.JSON `json:"fields" gorm:"type:jsonb"`
	Fingerprint string         `json:"-" gorm:"index;size:128"`
	ClientIP    string         `json:"-" gorm:"index;size:45"`

	Status  AttemptStatus `json:"status" gorm:"not null;default:active;index"`
	Version int           `json:"version" gorm:"not null;default:1"`

	// Cursor is the index of the question currently being served; it only
	// moves forward. Total is the frozen length of QuestionOrder.
	Cursor int   `json:"cursor" gorm:"not null;default:0"`
	Total  int   `json:"total" gorm:"not null"`
	Seed   int64 `json:"-" gorm:"not null"`

	// QuestionOrder holds the frozen []string of question IDs (jsonb).
	QuestionOrder datatypes.JSON `json:"-" gorm:"type:jsonb"`

	// Timing
	StartedAt        time.Time  `json:"started_at" gorm:"not null"`
	QuestionOpenedAt *time.Time `json:"question_opened_at"`
	SubmittedAt      *time.Time `json:"submitted_at"`
	ExpiredAt        *time.Time `json:"expired_at"`
	CancelledAt      *time.Time `json:"cancelled_at"`

	// Scoring
	Score        float64 `json:"score"`
	MaxScore     float64 `json:"max_score"`
	PendingCount int     `json:"pending_count"`

	Policy AttemptPolicy `json:"policy" gorm:"embedded;embeddedPrefix:policy_"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Assignment Assignment     `json:"-" gorm:"foreignKey:AssignmentID"`
	Answers    []AnswerRecord `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
}

// AnswerRecord stores one normalized answer, unique per (attempt, question).
// Resubmitting before the cursor advances overwrites the previous record.
type AnswerRecord struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	AttemptID  string `json:"attempt_id" gorm:"not null;size:36;uniqueIndex:idx_attempt_question"`
	QuestionID string `json:"question_id" gorm:"not null;size:36;uniqueIndex:idx_attempt_question"`

	Kind    AnswerKind     `json:"kind" gorm:"not null;size:16"`
	Payload datatypes.JSON `json:"payload" gorm:"type:jsonb"`

	// Position is the cursor value at the moment the answer was accepted.
	Position int `json:"position" gorm:"not null"`

	// Grading. Score stays nil for text/code until a grader fills it in.
	Weight    float64    `json:"weight" gorm:"not null;default:1"`
	Score     *float64   `json:"score"`
	IsCorrect *bool      `json:"is_correct"`
	GradedBy  *string    `json:"graded_by" gorm:"size:255"`
	GradedAt  *time.Time `json:"graded_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TestAttempt) TableName() string {
	return "test_attempts"
}

func (AnswerRecord) TableName() string {
	return "answer_records"
}

func (a *TestAttempt) IsActive() bool {
	return a.Status == AttemptActive
}

// Terminal reports whether the attempt reached a final status. Terminal
// attempts never transition again.
func (a *TestAttempt) Terminal() bool {
	return a.Status != AttemptActive
}

func (a *TestAttempt) QuestionIDs() ([]string, error) {
	if len(a.QuestionOrder) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(a.QuestionOrder, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *TestAttempt) SetQuestionIDs(ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	a.QuestionOrder = raw
	a.Total = len(ids)
	return nil
}

// CurrentQuestionID returns the question at the cursor, or false when the
// cursor has run past the end of the order.
func (a *TestAttempt) CurrentQuestionID() (string, bool) {
	ids, err := a.QuestionIDs()
	if err != nil || a.Cursor < 0 || a.Cursor >= len(ids) {
		return "", false
	}
	return ids[a.Cursor], true
}

// Deadline returns the absolute attempt deadline, or false when the policy
// sets no whole-attempt limit.
func (a *TestAttempt) Deadline() (time.Time, bool) {
	if a.Policy.MaxAttemptTimeSec <= 0 {
		return time.Time{}, false
	}
	return a.StartedAt.Add(time.Duration(a.Policy.MaxAttemptTimeSec) * time.Second), true
}

// QuestionDeadline returns the deadline of the currently open question, or
// false when no per-question limit applies or no question is open.
func (a *TestAttempt) QuestionDeadline() (time.Time, bool) {
	if a.Policy.QuestionTimeLimitSec <= 0 || a.QuestionOpenedAt == nil {
		return time.Time{}, false
	}
	return a.QuestionOpenedAt.Add(time.Duration(a.Policy.QuestionTimeLimitSec) * time.Second), true
}

func (a *TestAttempt) PastDeadline(now time.Time) bool {
	deadline, ok := a.Deadline()
	return ok && now.After(deadline)
}

func (a *TestAttempt) PastQuestionDeadline(now time.Time) bool {
	deadline, ok := a.QuestionDeadline()
	return ok && now.After(deadline)
}

// TimeLeftSec reports whole seconds until the attempt deadline, clamped at
// zero. The second result is false when no limit applies.
func (a *TestAttempt) TimeLeftSec(now time.Time) (int64, bool) {
	deadline, ok := a.Deadline()
	if !ok {
		return 0, false
	}
	left := int64(deadline.Sub(now).Seconds())
	if left < 0 {
		left = 0
	}
	return left, true
}

// QuestionTimeLeftSec reports whole seconds until the current question's
// deadline, clamped at zero.
func (a *TestAttempt) QuestionTimeLeftSec(now time.Time) (int64, bool) {
	deadline, ok := a.QuestionDeadline()
	if !ok {
		return 0, false
	}
	left := int64(deadline.Sub(now).Seconds())
	if left < 0 {
		left = 0
	}
	return left, true
}
