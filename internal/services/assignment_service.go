package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/validator"
)

type assignmentService struct {
	repo      repositories.Repository
	validator *validator.Validator
	logger    *slog.Logger
}

func NewAssignmentService(repo repositories.Repository, v *validator.Validator, logger *slog.Logger) AssignmentService {
	return &assignmentService{repo: repo, validator: v, logger: logger}
}

// Create instantiates a test as a sharable assignment with fresh share and
// manage tokens.
func (s *assignmentService) Create(ctx context.Context, req *CreateAssignmentRequest, ownerID string) (*models.Assignment, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err.Error())
	}
	if errs := s.validator.ValidateAttemptPolicy(&req.Policy); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, errs.Error())
	}
	if errs := s.validator.ValidateParticipantFields(req.Fields); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, errs.Error())
	}

	test, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, req.TestID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	if test.CreatedBy != ownerID {
		return nil, ErrForbidden
	}

	assignment := &models.Assignment{
		ID:          uuid.New().String(),
		TestID:      test.ID,
		OwnerID:     ownerID,
		Title:       req.Title,
		ShareToken:  uuid.New().String(),
		ManageToken: uuid.New().String(),
		Policy:      req.Policy,
	}
	if len(req.Fields) > 0 {
		raw, err := json.Marshal(req.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode participant fields: %w", err)
		}
		assignment.Fields = raw
	}

	if err := s.repo.Assignment().Create(ctx, nil, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.logger.Info("assignment created",
		"assignment_id", assignment.ID,
		"test_id", test.ID,
		"owner_id", ownerID,
	)
	return assignment, nil
}

func (s *assignmentService) GetByID(ctx context.Context, id, ownerID string) (*models.Assignment, error) {
	assignment, err := s.repo.Assignment().GetByIDWithTest(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return assignment, nil
}

// GetByShareToken resolves a participant link to the public landing view.
// Correct answers and tokens never leave this projection.
func (s *assignmentService) GetByShareToken(ctx context.Context, token string) (*AssignmentPublicView, error) {
	assignment, err := s.repo.Assignment().GetByShareToken(ctx, nil, token)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to resolve share token: %w", err)
	}

	test, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, assignment.TestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	questionCount := len(test.Questions)
	if assignment.Policy.MaxQuestions > 0 && assignment.Policy.MaxQuestions < questionCount {
		questionCount = assignment.Policy.MaxQuestions
	}

	fields, err := assignment.DecodeFields()
	if err != nil {
		return nil, fmt.Errorf("failed to decode participant fields: %w", err)
	}

	return &AssignmentPublicView{
		ID:            assignment.ID,
		Title:         assignment.Title,
		QuestionCount: questionCount,
		Policy:        buildPolicyView(assignment.Policy),
		Fields:        fields,
	}, nil
}
