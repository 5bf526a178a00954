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

type AssignmentPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAssignmentPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AssignmentRepository {
	return &AssignmentPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *AssignmentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *AssignmentPostgreSQL) Create(ctx context.Context, tx *gorm.DB, assignment *models.Assignment) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Create(assignment).Error; err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (r *AssignmentPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Assignment, error) {
	db := r.getDB(tx)
	var assignment models.Assignment
	if err := db.WithContext(ctx).Where("id = ?", id).First(&assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &assignment, nil
}

func (r *AssignmentPostgreSQL) GetByIDWithTest(ctx context.Context, tx *gorm.DB, id string) (*models.Assignment, error) {
	db := r.getDB(tx)
	var assignment models.Assignment
	if err := db.WithContext(ctx).
		Preload("Test.Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.position ASC")
		}).
		Preload("Test").
		Where("id = ?", id).
		First(&assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment with test: %w", err)
	}
	return &assignment, nil
}

func (r *AssignmentPostgreSQL) GetByShareToken(ctx context.Context, tx *gorm.DB, token string) (*models.Assignment, error) {
	db := r.getDB(tx)

	// Token lookups sit on the participant hot path, cache them.
	cacheKey := fmt.Sprintf("token:%s", token)
	var assignment models.Assignment

	err := r.cacheManager.Assignment.CacheOrExecute(ctx, cacheKey, &assignment, cache.AssignmentCacheConfig.TTL, func() (interface{}, error) {
		var dbAssignment models.Assignment
		if err := db.WithContext(ctx).Where("share_token = ?", token).First(&dbAssignment).Error; err != nil {
			return nil, err
		}
		return &dbAssignment, nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment by share token: %w", err)
	}
	return &assignment, nil
}
