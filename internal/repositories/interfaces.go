package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/classmark/attempt-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	UserID    *string               `json:"user_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`    // "created_at", "score", "status"
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

// AttemptCountFilter describes one participant identity for attempt-limit
// enforcement. Counts are taken per dimension and the maximum wins, so a
// guest cannot dodge the limit by changing their name.
type AttemptCountFilter struct {
	AssignmentID string
	UserID       *string
	GuestName    *string
	ClientIP     string
	Fingerprint  string
}

type AttemptCounts struct {
	ByUser        int64 `json:"by_user"`
	ByGuestName   int64 `json:"by_guest_name"`
	ByClientIP    int64 `json:"by_client_ip"`
	ByFingerprint int64 `json:"by_fingerprint"`
}

// Max returns the highest count across all identity dimensions.
func (c AttemptCounts) Max() int64 {
	max := c.ByUser
	for _, v := range []int64{c.ByGuestName, c.ByClientIP, c.ByFingerprint} {
		if v > max {
			max = v
		}
	}
	return max
}

// ===== REPOSITORY INTERFACES =====

type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.TestAttempt, error)
	GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id string) (*models.TestAttempt, error)

	// UpdateVersioned persists the attempt only when the stored row still
	// carries expectedVersion; returns ErrStaleVersion otherwise.
	UpdateVersioned(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt, expectedVersion int) error

	// UpdateScore writes scoring fields without touching the version.
	UpdateScore(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error

	GetActiveByUser(ctx context.Context, tx *gorm.DB, assignmentID, userID string) (*models.TestAttempt, error)
	CountByIdentity(ctx context.Context, tx *gorm.DB, filter AttemptCountFilter) (AttemptCounts, error)
	ListByAssignment(ctx context.Context, tx *gorm.DB, assignmentID string, filters AttemptFilters) ([]*models.TestAttempt, int64, error)
}

type AnswerRepository interface {
	// Upsert inserts or replaces the record keyed by (attempt, question).
	Upsert(ctx context.Context, tx *gorm.DB, record *models.AnswerRecord) error
	Update(ctx context.Context, tx *gorm.DB, record *models.AnswerRecord) error
	GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID string) (*models.AnswerRecord, error)
	ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID string) ([]*models.AnswerRecord, error)
}

type AssignmentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, assignment *models.Assignment) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Assignment, error)
	GetByIDWithTest(ctx context.Context, tx *gorm.DB, id string) (*models.Assignment, error)
	GetByShareToken(ctx context.Context, tx *gorm.DB, token string) (*models.Assignment, error)
}

type TestRepository interface {
	Create(ctx context.Context, tx *gorm.DB, test *models.Test) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Test, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id string) (*models.Test, error)
}

// UserRepository resolves identities against the external provider.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
}
