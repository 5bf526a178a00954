package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/classmark/attempt-service/internal/events"
	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	publisher events.EventPublisher
	validator *validator.Validator
	clock     Clock
	logger    *slog.Logger
}

func NewAttemptService(
	repo repositories.Repository,
	publisher events.EventPublisher,
	v *validator.Validator,
	clock Clock,
	logger *slog.Logger,
) AttemptService {
	return &attemptService{
		repo:      repo,
		publisher: publisher,
		validator: v,
		clock:     clock,
		logger:    logger,
	}
}

// Start creates a new attempt with a frozen question order, or resumes the
// caller's active attempt on the same assignment when they are a registered
// user.
func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, identity Identity) (*NextQuestionResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err.Error())
	}
	if identity.UserID == nil && strings.TrimSpace(req.GuestName) == "" {
		return nil, fmt.Errorf("%w: guest_name is required for anonymous participants", ErrValidationFailed)
	}

	assignment, err := s.repo.Assignment().GetByIDWithTest(ctx, nil, req.AssignmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	fieldDefs, err := assignment.DecodeFields()
	if err != nil {
		return nil, fmt.Errorf("failed to decode participant fields: %w", err)
	}
	if errs := s.validator.ValidateCollectedFields(fieldDefs, req.Fields); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, errs.Error())
	}

	// Registered users resume their active attempt instead of opening a
	// second one.
	if identity.UserID != nil {
		existing, err := s.repo.Attempt().GetActiveByUser(ctx, nil, assignment.ID, *identity.UserID)
		if err != nil && !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to look up active attempt: %w", err)
		}
		if existing != nil {
			return s.serveNext(ctx, existing)
		}
	}

	if assignment.Policy.MaxAttempts > 0 {
		counts, err := s.repo.Attempt().CountByIdentity(ctx, nil, repositories.AttemptCountFilter{
			AssignmentID: assignment.ID,
			UserID:       identity.UserID,
			GuestName:    nonEmptyPtr(req.GuestName),
			ClientIP:     identity.ClientIP,
			Fingerprint:  identity.Fingerprint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}
		if counts.Max() >= int64(assignment.Policy.MaxAttempts) {
			return nil, ErrAttemptLimitExceeded
		}
	}

	now := s.clock.Now()
	seed := rand.Int63()
	order := buildQuestionOrder(assignment.Test.Questions, assignment.Policy, seed)

	questionsByID := make(map[string]*models.Question, len(assignment.Test.Questions))
	for i := range assignment.Test.Questions {
		questionsByID[assignment.Test.Questions[i].ID] = &assignment.Test.Questions[i]
	}
	maxScore := 0.0
	for _, id := range order {
		if q, ok := questionsByID[id]; ok {
			maxScore += q.Weight
		}
	}

	attempt := &models.TestAttempt{
		ID:           uuid.New().String(),
		AssignmentID: assignment.ID,
		TestID:       assignment.TestID,
		UserID:       identity.UserID,
		GuestName:    nonEmptyPtr(req.GuestName),
		Fingerprint:  identity.Fingerprint,
		ClientIP:     identity.ClientIP,
		Status:       models.AttemptActive,
		Version:      1,
		Seed:         seed,
		StartedAt:    now,
		MaxScore:     maxScore,
		Policy:       assignment.Policy,
	}
	if err := attempt.SetQuestionIDs(order); err != nil {
		return nil, fmt.Errorf("failed to encode question order: %w", err)
	}
	if len(req.Fields) > 0 {
		raw, err := encodeFields(req.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode collected fields: %w", err)
		}
		attempt.Fields = raw
	}

	if err := s.repo.Attempt().Create(ctx, nil, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.publish(ctx, events.EventAttemptStarted, attempt)
	s.logger.Info("attempt started",
		"attempt_id", attempt.ID,
		"assignment_id", attempt.AssignmentID,
		"total", attempt.Total,
	)

	return s.serveNext(ctx, attempt)
}

// NextQuestion serves the question at the cursor, lazily expiring the
// attempt or skipping a timed-out question first.
func (s *attemptService) NextQuestion(ctx context.Context, attemptID string, identity Identity) (*NextQuestionResponse, error) {
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, identity)
	if err != nil {
		return nil, err
	}
	return s.serveNext(ctx, attempt)
}

// SubmitAnswer records an answer for the question at the cursor and
// advances it. The client must echo the version it last saw; a mismatch
// means another tab or device moved the attempt first.
func (s *attemptService) SubmitAnswer(ctx context.Context, attemptID string, req *SubmitAnswerRequest, identity Identity) (*NextQuestionResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err.Error())
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnswerPayload, err.Error())
	}

	attempt, err := s.loadOwnedAttempt(ctx, attemptID, identity)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(attempt); err != nil {
		return nil, err
	}
	if req.Version != attempt.Version {
		return nil, ErrVersionConflict
	}

	// Past either deadline the answer is discarded and the attempt expires.
	now := s.clock.Now()
	if attempt.PastDeadline(now) || attempt.PastQuestionDeadline(now) {
		if err := s.expireAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		return nil, ErrAttemptExpired
	}

	questionID, ok := attempt.CurrentQuestionID()
	if !ok {
		return nil, ErrNoMoreQuestions
	}
	question, err := s.loadQuestion(ctx, attempt.TestID, questionID)
	if err != nil {
		return nil, err
	}

	if !req.Payload.MatchesQuestion(question.Type) {
		return nil, fmt.Errorf("%w: %s answer for %s question", ErrInvalidAnswerPayload, req.Payload.Kind, question.Type)
	}
	if question.AutoGradable() {
		if err := validateSelection(question, &req.Payload); err != nil {
			if errors.Is(err, ErrInvalidAnswerPayload) {
				return nil, fmt.Errorf("%w: unknown option index", ErrInvalidAnswerPayload)
			}
			return nil, err
		}
	}

	score, isCorrect, _, err := scoreAnswer(question, &req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to score answer: %w", err)
	}

	payloadRaw, err := encodePayload(&req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer payload: %w", err)
	}
	record := &models.AnswerRecord{
		AttemptID:  attempt.ID,
		QuestionID: question.ID,
		Kind:       req.Payload.Kind,
		Payload:    payloadRaw,
		Position:   attempt.Cursor,
		Weight:     question.Weight,
		Score:      score,
		IsCorrect:  isCorrect,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Answer().Upsert(ctx, nil, record); err != nil {
			return fmt.Errorf("failed to store answer: %w", err)
		}

		answers, err := txRepo.Answer().ListByAttempt(ctx, nil, attempt.ID)
		if err != nil {
			return fmt.Errorf("failed to list answers: %w", err)
		}
		applyScores(attempt, answers)

		attempt.Cursor++
		attempt.QuestionOpenedAt = nil
		attempt.Version++
		if err := txRepo.Attempt().UpdateVersioned(ctx, nil, attempt, req.Version); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	return s.serveNext(ctx, attempt)
}

// Finish submits the attempt. With require_all_answered set the cursor must
// have run past the last question first.
func (s *attemptService) Finish(ctx context.Context, attemptID string, version int, identity Identity) (*AttemptView, error) {
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, identity)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(attempt); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if attempt.PastDeadline(now) || attempt.PastQuestionDeadline(now) {
		if err := s.expireAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		return nil, ErrAttemptExpired
	}
	if version != attempt.Version {
		return nil, ErrVersionConflict
	}
	if attempt.Policy.RequireAllAnswered && attempt.Cursor < attempt.Total {
		return nil, ErrIncompleteAttempt
	}

	attempt.Status = models.AttemptSubmitted
	attempt.SubmittedAt = &now
	attempt.QuestionOpenedAt = nil
	attempt.Version++
	if err := s.repo.Attempt().UpdateVersioned(ctx, nil, attempt, version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to submit attempt: %w", err)
	}

	s.publish(ctx, events.EventAttemptSubmitted, attempt)
	s.logger.Info("attempt submitted",
		"attempt_id", attempt.ID,
		"score", attempt.Score,
		"pending", attempt.PendingCount,
	)

	return s.buildAttemptView(attempt, s.clock.Now()), nil
}

// Cancel abandons the attempt without scoring it.
func (s *attemptService) Cancel(ctx context.Context, attemptID string, version int, identity Identity) (*AttemptView, error) {
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, identity)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(attempt); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if attempt.PastDeadline(now) || attempt.PastQuestionDeadline(now) {
		if err := s.expireAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		return nil, ErrAttemptExpired
	}
	if version != attempt.Version {
		return nil, ErrVersionConflict
	}

	attempt.Status = models.AttemptCancelled
	attempt.CancelledAt = &now
	attempt.QuestionOpenedAt = nil
	attempt.Version++
	if err := s.repo.Attempt().UpdateVersioned(ctx, nil, attempt, version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to cancel attempt: %w", err)
	}

	s.publish(ctx, events.EventAttemptCancelled, attempt)
	s.logger.Info("attempt cancelled", "attempt_id", attempt.ID)

	return s.buildAttemptView(attempt, s.clock.Now()), nil
}

// serveNext drives the question-serving loop: expire past the attempt
// deadline, skip questions past their own deadline, then stamp and return
// the question at the cursor. A terminal or exhausted attempt comes back
// with a nil question and Done set, never an error.
func (s *attemptService) serveNext(ctx context.Context, attempt *models.TestAttempt) (*NextQuestionResponse, error) {
	now := s.clock.Now()

	if attempt.Terminal() {
		return &NextQuestionResponse{
			Attempt: s.buildAttemptView(attempt, now),
			Done:    true,
		}, nil
	}

	if attempt.PastDeadline(now) {
		if err := s.expireAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		return &NextQuestionResponse{
			Attempt: s.buildAttemptView(attempt, now),
			Done:    true,
		}, nil
	}

	for {
		questionID, ok := attempt.CurrentQuestionID()
		if !ok {
			return &NextQuestionResponse{
				Attempt: s.buildAttemptView(attempt, now),
				Done:    true,
			}, nil
		}

		// A question past its own deadline is skipped unanswered; the
		// cursor never moves back.
		if attempt.PastQuestionDeadline(now) {
			expected := attempt.Version
			attempt.Cursor++
			attempt.QuestionOpenedAt = nil
			attempt.Version++
			if err := s.repo.Attempt().UpdateVersioned(ctx, nil, attempt, expected); err != nil {
				if errors.Is(err, repositories.ErrStaleVersion) {
					return nil, ErrVersionConflict
				}
				return nil, fmt.Errorf("failed to skip question: %w", err)
			}
			s.logger.Debug("question skipped on timeout",
				"attempt_id", attempt.ID,
				"question_id", questionID,
			)
			continue
		}

		question, err := s.loadQuestion(ctx, attempt.TestID, questionID)
		if err != nil {
			return nil, err
		}

		// Stamp the open time on first serve so the per-question clock
		// starts server-side; re-fetching the same question keeps it.
		if attempt.QuestionOpenedAt == nil {
			expected := attempt.Version
			openedAt := now
			attempt.QuestionOpenedAt = &openedAt
			attempt.Version++
			if err := s.repo.Attempt().UpdateVersioned(ctx, nil, attempt, expected); err != nil {
				if errors.Is(err, repositories.ErrStaleVersion) {
					return nil, ErrVersionConflict
				}
				return nil, fmt.Errorf("failed to open question: %w", err)
			}
		}

		view, err := s.buildQuestionView(question, attempt)
		if err != nil {
			return nil, err
		}
		return &NextQuestionResponse{
			Attempt:  s.buildAttemptView(attempt, now),
			Question: view,
		}, nil
	}
}

// expireAttempt transitions the attempt to expired and persists it. The
// version still moves so concurrent tabs see the transition.
func (s *attemptService) expireAttempt(ctx context.Context, attempt *models.TestAttempt) error {
	now := s.clock.Now()
	expected := attempt.Version

	attempt.Status = models.AttemptExpired
	attempt.ExpiredAt = &now
	attempt.QuestionOpenedAt = nil
	attempt.Version++
	if err := s.repo.Attempt().UpdateVersioned(ctx, nil, attempt, expected); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			// Another request expired or finished it first; reload so the
			// caller sees the winning state.
			fresh, ferr := s.repo.Attempt().GetByID(ctx, nil, attempt.ID)
			if ferr != nil {
				return ErrVersionConflict
			}
			*attempt = *fresh
			return nil
		}
		return fmt.Errorf("failed to expire attempt: %w", err)
	}

	s.publish(ctx, events.EventAttemptExpired, attempt)
	s.logger.Info("attempt expired", "attempt_id", attempt.ID)
	return nil
}
