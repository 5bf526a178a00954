package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (r *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Upsert keeps answers idempotent per (attempt, question): resubmitting
// before the cursor advances replaces the previous record in place.
func (r *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, record *models.AnswerRecord) error {
	db := r.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"kind", "payload", "position", "weight", "score", "is_correct", "updated_at",
			}),
		}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}
	return nil
}

func (r *AnswerPostgreSQL) Update(ctx context.Context, tx *gorm.DB, record *models.AnswerRecord) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to update answer: %w", err)
	}
	return nil
}

func (r *AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID string) (*models.AnswerRecord, error) {
	db := r.getDB(tx)
	var record models.AnswerRecord
	if err := db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &record, nil
}

func (r *AnswerPostgreSQL) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID string) ([]*models.AnswerRecord, error) {
	db := r.getDB(tx)
	var records []*models.AnswerRecord
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("position ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	return records, nil
}
