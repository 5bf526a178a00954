package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/classmark/attempt-service/internal/cache"
	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id string) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Preload("Answers").
		Where("id = ?", id).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt with answers: %w", err)
	}
	return &attempt, nil
}

// UpdateVersioned is a compare-and-swap write keyed on (id, version). A zero
// row count means a concurrent writer got there first, even from another
// process, and the caller must report a version conflict.
func (a *AttemptPostgreSQL) UpdateVersioned(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt, expectedVersion int) error {
	db := a.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("id = ? AND version = ?", attempt.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":             attempt.Status,
			"version":            attempt.Version,
			"cursor":             attempt.Cursor,
			"question_opened_at": attempt.QuestionOpenedAt,
			"submitted_at":       attempt.SubmittedAt,
			"expired_at":         attempt.ExpiredAt,
			"cancelled_at":       attempt.CancelledAt,
			"score":              attempt.Score,
			"pending_count":      attempt.PendingCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrStaleVersion
	}

	a.invalidateCache(ctx, attempt.ID)
	return nil
}

// UpdateScore writes grading results without bumping the protocol version.
func (a *AttemptPostgreSQL) UpdateScore(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("id = ?", attempt.ID).
		Updates(map[string]interface{}{
			"score":         attempt.Score,
			"pending_count": attempt.PendingCount,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update attempt score: %w", err)
	}

	a.invalidateCache(ctx, attempt.ID)
	return nil
}

func (a *AttemptPostgreSQL) GetActiveByUser(ctx context.Context, tx *gorm.DB, assignmentID, userID string) (*models.TestAttempt, error) {
	db := a.getDB(tx)
	var attempt models.TestAttempt
	if err := db.WithContext(ctx).
		Where("assignment_id = ? AND user_id = ? AND status = ?", assignmentID, userID, models.AttemptActive).
		Order("created_at DESC").
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active attempt: %w", err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) CountByIdentity(ctx context.Context, tx *gorm.DB, filter repositories.AttemptCountFilter) (repositories.AttemptCounts, error) {
	db := a.getDB(tx)
	var counts repositories.AttemptCounts

	count := func(query *gorm.DB) (int64, error) {
		var n int64
		err := query.Count(&n).Error
		return n, err
	}

	base := func() *gorm.DB {
		return db.WithContext(ctx).
			Model(&models.TestAttempt{}).
			Where("assignment_id = ?", filter.AssignmentID)
	}

	var err error
	if filter.UserID != nil {
		if counts.ByUser, err = count(base().Where("user_id = ?", *filter.UserID)); err != nil {
			return counts, fmt.Errorf("failed to count attempts by user: %w", err)
		}
	}
	if filter.GuestName != nil {
		if counts.ByGuestName, err = count(base().Where("guest_name = ?", *filter.GuestName)); err != nil {
			return counts, fmt.Errorf("failed to count attempts by guest name: %w", err)
		}
	}
	if filter.ClientIP != "" {
		if counts.ByClientIP, err = count(base().Where("client_ip = ?", filter.ClientIP)); err != nil {
			return counts, fmt.Errorf("failed to count attempts by client ip: %w", err)
		}
	}
	if filter.Fingerprint != "" {
		if counts.ByFingerprint, err = count(base().Where("fingerprint = ?", filter.Fingerprint)); err != nil {
			return counts, fmt.Errorf("failed to count attempts by fingerprint: %w", err)
		}
	}

	return counts, nil
}

func (a *AttemptPostgreSQL) ListByAssignment(ctx context.Context, tx *gorm.DB, assignmentID string, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.TestAttempt
	var total int64

	// apply filter first
	query := db.WithContext(ctx).
		Model(&models.TestAttempt{}).
		Where("assignment_id = ?", assignmentID)
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	// then apply pagination and sorting
	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) invalidateCache(ctx context.Context, attemptID string) {
	// Best effort; a stale cache entry only survives until its short TTL.
	_ = a.cacheManager.InvalidateAttempt(ctx, attemptID)
}
