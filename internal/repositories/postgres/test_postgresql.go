package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

type TestPostgreSQL struct {
	db *gorm.DB
}

func NewTestPostgreSQL(db *gorm.DB) repositories.TestRepository {
	return &TestPostgreSQL{db: db}
}

func (r *TestPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *TestPostgreSQL) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Create(test).Error; err != nil {
		return fmt.Errorf("failed to create test: %w", err)
	}
	return nil
}

func (r *TestPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Test, error) {
	db := r.getDB(tx)
	var test models.Test
	if err := db.WithContext(ctx).Where("id = ?", id).First(&test).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return &test, nil
}

func (r *TestPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id string) (*models.Test, error) {
	db := r.getDB(tx)
	var test models.Test
	if err := db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.position ASC")
		}).
		Where("id = ?", id).
		First(&test).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test with questions: %w", err)
	}
	return &test, nil
}
