package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/classmark/attempt-service/internal/events"
	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/validator"
)

type gradingService struct {
	repo      repositories.Repository
	publisher events.EventPublisher
	validator *validator.Validator
	clock     Clock
	logger    *slog.Logger
}

func NewGradingService(
	repo repositories.Repository,
	publisher events.EventPublisher,
	v *validator.Validator,
	clock Clock,
	logger *slog.Logger,
) GradingService {
	return &gradingService{
		repo:      repo,
		publisher: publisher,
		validator: v,
		clock:     clock,
		logger:    logger,
	}
}

// GradeAnswer applies a manual grade to a text or code answer and
// recomputes the attempt's aggregate score. Grading never touches the
// attempt version, cursor or status, so a participant still reviewing
// their result sees no conflict.
func (s *gradingService) GradeAnswer(ctx context.Context, attemptID string, req *GradeAnswerRequest, graderID string) (*AttemptDetailsResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err.Error())
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	assignment, err := s.repo.Assignment().GetByID(ctx, nil, attempt.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment.OwnerID != graderID {
		return nil, ErrForbidden
	}

	record, err := s.repo.Answer().GetByAttemptAndQuestion(ctx, nil, attemptID, req.QuestionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerNotFound
		}
		return nil, fmt.Errorf("failed to load answer: %w", err)
	}
	if record.Kind != models.AnswerText && record.Kind != models.AnswerCode {
		return nil, ErrAnswerNotGradable
	}
	if req.Score > record.Weight {
		return nil, fmt.Errorf("%w: score %.2f exceeds question weight %.2f", ErrValidationFailed, req.Score, record.Weight)
	}

	now := s.clock.Now()
	score := req.Score
	record.Score = &score
	record.GradedBy = &graderID
	record.GradedAt = &now
	if req.IsCorrect != nil {
		record.IsCorrect = req.IsCorrect
	} else {
		correct := score >= record.Weight
		record.IsCorrect = &correct
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Answer().Update(ctx, nil, record); err != nil {
			return fmt.Errorf("failed to store grade: %w", err)
		}
		answers, err := txRepo.Answer().ListByAttempt(ctx, nil, attempt.ID)
		if err != nil {
			return fmt.Errorf("failed to list answers: %w", err)
		}
		applyScores(attempt, answers)
		if err := txRepo.Attempt().UpdateScore(ctx, nil, attempt); err != nil {
			return fmt.Errorf("failed to update attempt score: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishGraded(ctx, attempt, record, graderID)
	s.logger.Info("answer graded",
		"attempt_id", attempt.ID,
		"question_id", req.QuestionID,
		"score", req.Score,
		"pending", attempt.PendingCount,
	)

	users := map[string]*models.User{}
	if attempt.UserID != nil {
		if user, uerr := s.repo.User().GetByID(ctx, *attempt.UserID); uerr == nil {
			users[*attempt.UserID] = user
		}
	}
	return buildAttemptDetails(ctx, s.repo, attempt, users)
}

func (s *gradingService) publishGraded(ctx context.Context, attempt *models.TestAttempt, record *models.AnswerRecord, graderID string) {
	if s.publisher == nil {
		return
	}
	event := events.NewEvent(events.EventAnswerGraded, events.AnswerGradedEvent{
		AttemptID:  attempt.ID,
		QuestionID: record.QuestionID,
		GradedBy:   graderID,
		Score:      *record.Score,
		Pending:    attempt.PendingCount,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "type", events.EventAnswerGraded, "error", err)
	}
}
