package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/classmark/attempt-service/internal/events"
	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

// ===== OWNER-SIDE VIEWS =====

func (s *attemptService) ListByAssignment(ctx context.Context, assignmentID, ownerID string, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	assignment, err := s.repo.Assignment().GetByID(ctx, nil, assignmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	attempts, total, err := s.repo.Attempt().ListByAssignment(ctx, nil, assignmentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	users := s.resolveUsers(ctx, attempts)

	summaries := make([]*AttemptSummary, 0, len(attempts))
	for _, attempt := range attempts {
		summaries = append(summaries, buildSummary(attempt, users))
	}

	return &AttemptListResponse{Attempts: summaries, Total: total}, nil
}

func (s *attemptService) GetDetails(ctx context.Context, attemptID, ownerID string) (*AttemptDetailsResponse, error) {
	attempt, err := s.repo.Attempt().GetByIDWithAnswers(ctx, nil, attemptID)
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
	if assignment.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	users := s.resolveUsers(ctx, []*models.TestAttempt{attempt})
	return buildAttemptDetails(ctx, s.repo, attempt, users)
}

// resolveUsers looks up display names for registered participants. Lookup
// failures degrade to IDs only.
func (s *attemptService) resolveUsers(ctx context.Context, attempts []*models.TestAttempt) map[string]*models.User {
	ids := make([]string, 0, len(attempts))
	seen := make(map[string]bool, len(attempts))
	for _, a := range attempts {
		if a.UserID != nil && !seen[*a.UserID] {
			seen[*a.UserID] = true
			ids = append(ids, *a.UserID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to resolve users", "error", err)
		return nil
	}
	return users
}

// buildAttemptDetails assembles the owner-facing per-question breakdown in
// the attempt's frozen serving order. Shared with the grading service.
func buildAttemptDetails(ctx context.Context, repo repositories.Repository, attempt *models.TestAttempt, users map[string]*models.User) (*AttemptDetailsResponse, error) {
	test, err := repo.Test().GetByIDWithQuestions(ctx, nil, attempt.TestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	questionsByID := make(map[string]*models.Question, len(test.Questions))
	for i := range test.Questions {
		questionsByID[test.Questions[i].ID] = &test.Questions[i]
	}

	answers := attempt.Answers
	if answers == nil {
		records, err := repo.Answer().ListByAttempt(ctx, nil, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list answers: %w", err)
		}
		for _, r := range records {
			answers = append(answers, *r)
		}
	}
	answersByQuestion := make(map[string]*models.AnswerRecord, len(answers))
	for i := range answers {
		answersByQuestion[answers[i].QuestionID] = &answers[i]
	}

	order, err := attempt.QuestionIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question order: %w", err)
	}

	details := make([]*AnswerDetail, 0, len(order))
	for pos, questionID := range order {
		question, ok := questionsByID[questionID]
		if !ok {
			continue
		}
		detail := &AnswerDetail{
			QuestionID:   questionID,
			QuestionText: question.Text,
			QuestionType: question.Type,
			Position:     pos,
			Weight:       question.Weight,
		}
		if record, ok := answersByQuestion[questionID]; ok {
			detail.Answered = true
			detail.Score = record.Score
			detail.IsCorrect = record.IsCorrect
			detail.GradedBy = record.GradedBy
			detail.GradedAt = record.GradedAt
			if len(record.Payload) > 0 {
				var payload models.AnswerPayload
				if err := json.Unmarshal(record.Payload, &payload); err == nil {
					detail.Payload = &payload
				}
			}
		}
		details = append(details, detail)
	}

	return &AttemptDetailsResponse{
		Summary: buildSummary(attempt, users),
		Answers: details,
	}, nil
}

func buildSummary(attempt *models.TestAttempt, users map[string]*models.User) *AttemptSummary {
	summary := &AttemptSummary{
		ID:           attempt.ID,
		UserID:       attempt.UserID,
		GuestName:    attempt.GuestName,
		Status:       attempt.Status,
		Version:      attempt.Version,
		Cursor:       attempt.Cursor,
		Total:        attempt.Total,
		Score:        attempt.Score,
		MaxScore:     attempt.MaxScore,
		PendingScore: attempt.PendingCount,
		StartedAt:    attempt.StartedAt,
		SubmittedAt:  attempt.SubmittedAt,
	}
	if attempt.UserID != nil {
		if user, ok := users[*attempt.UserID]; ok && user != nil {
			summary.UserDisplayName = user.DisplayName
		}
	}
	if len(attempt.Fields) > 0 {
		var fields map[string]string
		if err := json.Unmarshal(attempt.Fields, &fields); err == nil {
			summary.Fields = fields
		}
	}
	return summary
}

// ===== PARTICIPANT VIEW BUILDING =====

func buildPolicyView(policy models.AttemptPolicy) PolicyView {
	return PolicyView{
		QuestionTimeLimitSec: policy.QuestionTimeLimitSec,
		MaxAttemptTimeSec:    policy.MaxAttemptTimeSec,
		RequireAllAnswered:   policy.RequireAllAnswered,
		LockAnswerOnConfirm:  policy.LockAnswerOnConfirm,
		AllowNavigation:      policy.AllowNavigation,
		ShowElapsedTime:      policy.ShowElapsedTime,
		RevealScore:          policy.RevealScore,
		RevealSolutions:      policy.RevealSolutions,
	}
}

func (s *attemptService) buildAttemptView(attempt *models.TestAttempt, now time.Time) *AttemptView {
	view := &AttemptView{
		ID:           attempt.ID,
		AssignmentID: attempt.AssignmentID,
		Status:       attempt.Status,
		Version:      attempt.Version,
		Cursor:       attempt.Cursor,
		Total:        attempt.Total,
		StartedAt:    attempt.StartedAt,
		SubmittedAt:  attempt.SubmittedAt,
		ExpiredAt:    attempt.ExpiredAt,
		PendingScore: attempt.PendingCount,
		Policy:       buildPolicyView(attempt.Policy),
	}

	if attempt.IsActive() {
		if left, ok := attempt.TimeLeftSec(now); ok {
			view.TimeLeftSec = &left
		}
		if left, ok := attempt.QuestionTimeLeftSec(now); ok {
			view.QuestionTimeLeftSec = &left
		}
	}

	if scoreVisible(attempt) {
		score := attempt.Score
		maxScore := attempt.MaxScore
		view.Score = &score
		view.MaxScore = &maxScore
	}

	return view
}

// scoreVisible applies the reveal policy to the participant view. Owner
// views always carry scores.
func scoreVisible(attempt *models.TestAttempt) bool {
	switch attempt.Policy.RevealScore {
	case models.RevealAlways:
		return true
	case models.RevealAfterSubmit:
		return attempt.Status == models.AttemptSubmitted
	default:
		return false
	}
}

func (s *attemptService) buildQuestionView(question *models.Question, attempt *models.TestAttempt) (*QuestionView, error) {
	view := &QuestionView{
		ID:       question.ID,
		Type:     question.Type,
		Text:     question.Text,
		ImageURL: question.ImageURL,
		Weight:   question.Weight,
		Position: attempt.Cursor,
	}

	opts, err := question.DecodeOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if len(opts) > 0 {
		if attempt.Policy.ShuffleAnswers {
			opts = shuffleOptions(opts, attempt.Seed, attempt.Cursor)
		}
		view.Options = make([]OptionView, len(opts))
		for i, o := range opts {
			view.Options[i] = OptionView{Index: o.Index, Text: o.Text, ImageURL: o.ImageURL}
		}
	}

	return view, nil
}

// ===== SHARED LOOKUPS =====

func (s *attemptService) loadOwnedAttempt(ctx context.Context, attemptID string, identity Identity) (*models.TestAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	if err := checkParticipant(attempt, identity); err != nil {
		return nil, err
	}
	return attempt, nil
}

// checkParticipant verifies the caller is the attempt's participant. A
// registered attempt requires the same user id; a guest attempt is matched
// on fingerprint when one was captured at start.
func checkParticipant(attempt *models.TestAttempt, identity Identity) error {
	if attempt.UserID != nil {
		if identity.UserID == nil || *identity.UserID != *attempt.UserID {
			return ErrForbidden
		}
		return nil
	}
	if attempt.Fingerprint != "" && identity.Fingerprint != attempt.Fingerprint {
		return ErrForbidden
	}
	return nil
}

func (s *attemptService) requireActive(attempt *models.TestAttempt) error {
	switch attempt.Status {
	case models.AttemptActive:
		return nil
	case models.AttemptExpired:
		return ErrAttemptExpired
	default:
		return ErrAttemptNotActive
	}
}

func (s *attemptService) loadQuestion(ctx context.Context, testID, questionID string) (*models.Question, error) {
	test, err := s.repo.Test().GetByIDWithQuestions(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	for i := range test.Questions {
		if test.Questions[i].ID == questionID {
			return &test.Questions[i], nil
		}
	}
	return nil, ErrQuestionNotFound
}

// applyScores recomputes the attempt's aggregate score and pending count
// from its answer records. Questions auto-score immediately; text and code
// stay pending until graded.
func applyScores(attempt *models.TestAttempt, answers []*models.AnswerRecord) {
	score := 0.0
	pending := 0
	for _, record := range answers {
		if record.Score != nil {
			score += *record.Score
		} else {
			pending++
		}
	}
	attempt.Score = score
	attempt.PendingCount = pending
}

// ===== EVENTS =====

func (s *attemptService) publish(ctx context.Context, eventType string, attempt *models.TestAttempt) {
	if s.publisher == nil {
		return
	}
	event := events.NewEvent(eventType, events.AttemptEvent{
		AttemptID:    attempt.ID,
		AssignmentID: attempt.AssignmentID,
		TestID:       attempt.TestID,
		UserID:       attempt.UserID,
		GuestName:    attempt.GuestName,
		Status:       string(attempt.Status),
		Version:      attempt.Version,
		Cursor:       attempt.Cursor,
		Total:        attempt.Total,
		Score:        attempt.Score,
		MaxScore:     attempt.MaxScore,
		PendingCount: attempt.PendingCount,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "type", eventType, "error", err)
	}
}

// ===== SMALL HELPERS =====

func nonEmptyPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func encodeFields(fields map[string]string) (datatypes.JSON, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func encodePayload(payload *models.AnswerPayload) (datatypes.JSON, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
