package services

import (
	"context"
	"time"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

// ===== IDENTITY =====

// Identity describes who is calling a participant endpoint. UserID is set
// when a bearer token was presented; guests are identified by name, client
// IP and browser fingerprint.
type Identity struct {
	UserID      *string
	GuestName   string
	Fingerprint string
	ClientIP    string
}

// ===== REQUEST DTOS =====

type StartAttemptRequest struct {
	AssignmentID string            `json:"assignment_id" validate:"required,uuid"`
	GuestName    string            `json:"guest_name" validate:"omitempty,min=1,max=120"`
	Fingerprint  string            `json:"fingerprint" validate:"omitempty,max=128"`
	Fields       map[string]string `json:"fields" validate:"omitempty,max=32"`
}

type SubmitAnswerRequest struct {
	Version int                  `json:"version" validate:"required,min=1"`
	Payload models.AnswerPayload `json:"payload" validate:"required"`
}

type FinishAttemptRequest struct {
	Version int `json:"version" validate:"required,min=1"`
}

type CancelAttemptRequest struct {
	Version int `json:"version" validate:"required,min=1"`
}

type GradeAnswerRequest struct {
	QuestionID string  `json:"question_id" validate:"required,uuid"`
	Score      float64 `json:"score" validate:"min=0"`
	IsCorrect  *bool   `json:"is_correct"`
}

type CreateAssignmentRequest struct {
	TestID string                    `json:"test_id" validate:"required,uuid"`
	Title  string                    `json:"title" validate:"required,min=1,max=200"`
	Policy models.AttemptPolicy      `json:"policy"`
	Fields []models.ParticipantField `json:"fields" validate:"omitempty,max=32,dive"`
}

// ===== RESPONSE DTOS =====

// PolicyView is the policy subset a participant's client needs to drive
// its UI and timers.
type PolicyView struct {
	QuestionTimeLimitSec int                    `json:"question_time_limit_sec"`
	MaxAttemptTimeSec    int                    `json:"max_attempt_time_sec"`
	RequireAllAnswered   bool                   `json:"require_all_answered"`
	LockAnswerOnConfirm  bool                   `json:"lock_answer_on_confirm"`
	AllowNavigation      bool                   `json:"allow_navigation"`
	ShowElapsedTime      bool                   `json:"show_elapsed_time"`
	RevealScore          models.ScoreRevealMode `json:"reveal_score"`
	RevealSolutions      bool                   `json:"reveal_solutions"`
}

// AttemptView is the participant-facing projection of an attempt. Remaining
// times are computed server-side at response time; clients mirror them but
// never extrapolate their own deadlines.
type AttemptView struct {
	ID           string               `json:"id"`
	AssignmentID string               `json:"assignment_id"`
	Status       models.AttemptStatus `json:"status"`
	Version      int                  `json:"version"`
	Cursor       int                  `json:"cursor"`
	Total        int                  `json:"total"`

	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`

	// Timers, nil when no limit applies or the attempt is terminal.
	TimeLeftSec         *int64 `json:"time_left_sec,omitempty"`
	QuestionTimeLeftSec *int64 `json:"question_time_left_sec,omitempty"`

	// Score fields are populated only when the policy reveals them.
	Score        *float64 `json:"score,omitempty"`
	MaxScore     *float64 `json:"max_score,omitempty"`
	PendingScore int      `json:"pending_score"`

	Policy PolicyView `json:"policy"`
}

type OptionView struct {
	Index    int     `json:"index"`
	Text     string  `json:"text"`
	ImageURL *string `json:"image_url,omitempty"`
}

// QuestionView is a single served question with correctness stripped.
// Options carry their stable bank index so answers survive display
// shuffling.
type QuestionView struct {
	ID       string              `json:"id"`
	Type     models.QuestionType `json:"type"`
	Text     string              `json:"text"`
	ImageURL *string             `json:"image_url,omitempty"`
	Weight   float64             `json:"weight"`
	Position int                 `json:"position"`
	Options  []OptionView        `json:"options,omitempty"`
}

// NextQuestionResponse pairs the attempt view with the question at the
// cursor. Question is nil and Done true once the order is exhausted or the
// attempt left the active state.
type NextQuestionResponse struct {
	Attempt  *AttemptView  `json:"attempt"`
	Question *QuestionView `json:"question,omitempty"`
	Done     bool          `json:"done"`
}

type AttemptSummary struct {
	ID              string               `json:"id"`
	UserID          *string              `json:"user_id,omitempty"`
	UserDisplayName string               `json:"user_display_name,omitempty"`
	GuestName       *string              `json:"guest_name,omitempty"`
	Fields          map[string]string    `json:"fields,omitempty"`
	Status          models.AttemptStatus `json:"status"`
	Version         int                  `json:"version"`
	Cursor          int                  `json:"cursor"`
	Total           int                  `json:"total"`
	Score           float64              `json:"score"`
	MaxScore        float64              `json:"max_score"`
	PendingScore    int                  `json:"pending_score"`
	StartedAt       time.Time            `json:"started_at"`
	SubmittedAt     *time.Time           `json:"submitted_at,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*AttemptSummary `json:"attempts"`
	Total    int64             `json:"total"`
}

// AnswerDetail is the owner-facing per-question breakdown.
type AnswerDetail struct {
	QuestionID   string                `json:"question_id"`
	QuestionText string                `json:"question_text"`
	QuestionType models.QuestionType   `json:"question_type"`
	Position     int                   `json:"position"`
	Answered     bool                  `json:"answered"`
	Payload      *models.AnswerPayload `json:"payload,omitempty"`
	Weight       float64               `json:"weight"`
	Score        *float64              `json:"score,omitempty"`
	IsCorrect    *bool                 `json:"is_correct,omitempty"`
	GradedBy     *string               `json:"graded_by,omitempty"`
	GradedAt     *time.Time            `json:"graded_at,omitempty"`
}

type AttemptDetailsResponse struct {
	Summary *AttemptSummary `json:"summary"`
	Answers []*AnswerDetail `json:"answers"`
}

// AssignmentPublicView is what a participant sees before starting: enough
// to render the landing form, nothing about correct answers or tokens.
type AssignmentPublicView struct {
	ID            string                    `json:"id"`
	Title         string                    `json:"title"`
	QuestionCount int                       `json:"question_count"`
	Policy        PolicyView                `json:"policy"`
	Fields        []models.ParticipantField `json:"fields,omitempty"`
}

// ===== SERVICE INTERFACES =====

// AttemptService owns the attempt state machine: every transition, the
// version stamping, and lazy deadline enforcement.
type AttemptService interface {
	Start(ctx context.Context, req *StartAttemptRequest, identity Identity) (*NextQuestionResponse, error)
	NextQuestion(ctx context.Context, attemptID string, identity Identity) (*NextQuestionResponse, error)
	SubmitAnswer(ctx context.Context, attemptID string, req *SubmitAnswerRequest, identity Identity) (*NextQuestionResponse, error)
	Finish(ctx context.Context, attemptID string, version int, identity Identity) (*AttemptView, error)
	Cancel(ctx context.Context, attemptID string, version int, identity Identity) (*AttemptView, error)

	// Owner-side views
	ListByAssignment(ctx context.Context, assignmentID, ownerID string, filters repositories.AttemptFilters) (*AttemptListResponse, error)
	GetDetails(ctx context.Context, attemptID, ownerID string) (*AttemptDetailsResponse, error)
}

// GradingService applies manual grades to text/code answers.
type GradingService interface {
	GradeAnswer(ctx context.Context, attemptID string, req *GradeAnswerRequest, graderID string) (*AttemptDetailsResponse, error)
}

type AssignmentService interface {
	Create(ctx context.Context, req *CreateAssignmentRequest, ownerID string) (*models.Assignment, error)
	GetByID(ctx context.Context, id, ownerID string) (*models.Assignment, error)
	GetByShareToken(ctx context.Context, token string) (*AssignmentPublicView, error)
}

// ServiceManager wires and owns all service instances.
type ServiceManager interface {
	Attempt() AttemptService
	Grading() GradingService
	Assignment() AssignmentService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
