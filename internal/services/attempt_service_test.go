package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/classmark/attempt-service/internal/events"
	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/validator"
)

type attemptTestEnv struct {
	service    AttemptService
	repo       *mockRepository
	clock      *fixedClock
	publisher  *events.MockEventPublisher
	assignment models.Assignment
	test       models.Test
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func buildQuestion(id, testID string, typ models.QuestionType, weight float64, position int, options []models.Option, key *models.AnswerKey) models.Question {
	q := models.Question{
		ID:       id,
		TestID:   testID,
		Type:     typ,
		Text:     "question " + id,
		Weight:   weight,
		Position: position,
	}
	if options != nil {
		raw, _ := json.Marshal(options)
		q.Options = raw
	}
	if key != nil {
		raw, _ := json.Marshal(key)
		q.AnswerKey = raw
	}
	return q
}

// newAttemptTestEnv seeds one owner, one three-question test (single, multi,
// text) and one assignment with the given policy.
func newAttemptTestEnv(t *testing.T, policy models.AttemptPolicy) *attemptTestEnv {
	t.Helper()

	repo := newMockRepository()
	clock := newFixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	publisher := events.NewMockEventPublisher(nil)

	testID := uuid.New().String()
	bank := models.Test{
		ID:        testID,
		Title:     "Networking basics",
		CreatedBy: "owner-1",
		Questions: []models.Question{
			buildQuestion("q1", testID, models.QuestionSingleChoice, 2, 0,
				[]models.Option{{Index: 0, Text: "TCP"}, {Index: 1, Text: "UDP"}, {Index: 2, Text: "ICMP"}},
				&models.AnswerKey{Selected: intPtr(1)}),
			buildQuestion("q2", testID, models.QuestionMultiChoice, 3, 1,
				[]models.Option{{Index: 0, Text: "GET"}, {Index: 1, Text: "POST"}, {Index: 2, Text: "PUT"}, {Index: 3, Text: "FETCH"}},
				&models.AnswerKey{SelectedOptions: []int{0, 2}}),
			buildQuestion("q3", testID, models.QuestionText, 5, 2, nil, nil),
		},
	}
	repo.addTest(bank)

	assignment := models.Assignment{
		ID:         uuid.New().String(),
		TestID:     testID,
		OwnerID:    "owner-1",
		Title:      "Quiz week 3",
		ShareToken: uuid.New().String(),
		Policy:     policy,
	}
	repo.addAssignment(assignment)

	service := NewAttemptService(repo, publisher, validator.New(), clock, slog.New(slog.DiscardHandler))

	return &attemptTestEnv{
		service:    service,
		repo:       repo,
		clock:      clock,
		publisher:  publisher,
		assignment: assignment,
		test:       bank,
	}
}

func (e *attemptTestEnv) startGuest(t *testing.T, name, fingerprint string) *NextQuestionResponse {
	t.Helper()
	resp, err := e.service.Start(context.Background(), &StartAttemptRequest{
		AssignmentID: e.assignment.ID,
		GuestName:    name,
		Fingerprint:  fingerprint,
	}, Identity{GuestName: name, Fingerprint: fingerprint, ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return resp
}

func guestIdentity(name, fingerprint string) Identity {
	return Identity{GuestName: name, Fingerprint: fingerprint, ClientIP: "10.0.0.1"}
}

func TestStartServesFirstQuestion(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")

	if resp.Done {
		t.Fatal("expected an open question, got done")
	}
	if resp.Question == nil || resp.Question.ID != "q1" {
		t.Fatalf("expected q1 first, got %+v", resp.Question)
	}
	if resp.Attempt.Total != 3 {
		t.Fatalf("expected total 3, got %d", resp.Attempt.Total)
	}
	// Create is version 1, stamping the open question bumps to 2.
	if resp.Attempt.Version != 2 {
		t.Fatalf("expected version 2 after start, got %d", resp.Attempt.Version)
	}
	if resp.Attempt.Cursor != 0 {
		t.Fatalf("expected cursor 0, got %d", resp.Attempt.Cursor)
	}

	published := env.publisher.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.EventAttemptStarted {
		t.Fatalf("expected one attempt.started event, got %+v", published)
	}
}

func TestStartRequiresGuestName(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	_, err := env.service.Start(context.Background(), &StartAttemptRequest{
		AssignmentID: env.assignment.ID,
	}, Identity{Fingerprint: "fp-1"})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestStartResumesActiveAttemptForUser(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{MaxAttempts: 1})
	identity := Identity{UserID: strPtr("user-7"), ClientIP: "10.0.0.1"}

	first, err := env.service.Start(context.Background(), &StartAttemptRequest{AssignmentID: env.assignment.ID}, identity)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := env.service.Start(context.Background(), &StartAttemptRequest{AssignmentID: env.assignment.ID}, identity)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first.Attempt.ID != second.Attempt.ID {
		t.Fatalf("expected resume of attempt %s, got %s", first.Attempt.ID, second.Attempt.ID)
	}
}

func TestStartEnforcesAttemptLimit(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{MaxAttempts: 1})
	env.startGuest(t, "alice", "fp-1")

	// Same browser, different name: the fingerprint count still trips the
	// limit.
	_, err := env.service.Start(context.Background(), &StartAttemptRequest{
		AssignmentID: env.assignment.ID,
		GuestName:    "bob",
		Fingerprint:  "fp-1",
	}, guestIdentity("bob", "fp-1"))
	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("expected ErrAttemptLimitExceeded, got %v", err)
	}
}

func TestSubmitAnswerScoresChoiceQuestions(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{RevealScore: models.RevealAlways})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")
	attemptID := resp.Attempt.ID

	// Correct single choice earns the full weight.
	resp, err := env.service.SubmitAnswer(context.Background(), attemptID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(1)},
	}, identity)
	if err != nil {
		t.Fatalf("submit q1 failed: %v", err)
	}
	if resp.Attempt.Score == nil || *resp.Attempt.Score != 2 {
		t.Fatalf("expected score 2 after q1, got %+v", resp.Attempt.Score)
	}
	if resp.Question == nil || resp.Question.ID != "q2" {
		t.Fatalf("expected q2 next, got %+v", resp.Question)
	}

	// Multi choice is exact set match, no partial credit.
	resp, err = env.service.SubmitAnswer(context.Background(), attemptID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerMulti, SelectedOptions: []int{2, 0}},
	}, identity)
	if err != nil {
		t.Fatalf("submit q2 failed: %v", err)
	}
	if *resp.Attempt.Score != 5 {
		t.Fatalf("expected score 5 after q2, got %v", *resp.Attempt.Score)
	}

	// Text answers stay pending until graded.
	resp, err = env.service.SubmitAnswer(context.Background(), attemptID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerText, Text: "a connection-oriented protocol"},
	}, identity)
	if err != nil {
		t.Fatalf("submit q3 failed: %v", err)
	}
	if !resp.Done || resp.Question != nil {
		t.Fatalf("expected done after last question, got %+v", resp)
	}
	if resp.Attempt.PendingScore != 1 {
		t.Fatalf("expected 1 pending answer, got %d", resp.Attempt.PendingScore)
	}
	if *resp.Attempt.Score != 5 {
		t.Fatalf("expected score unchanged at 5, got %v", *resp.Attempt.Score)
	}
}

func TestSubmitAnswerWrongMultiSetScoresZero(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{RevealScore: models.RevealAlways})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	resp, err := env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(0)},
	}, identity)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if *resp.Attempt.Score != 0 {
		t.Fatalf("expected score 0 for wrong answer, got %v", *resp.Attempt.Score)
	}

	// A superset of the key is wrong.
	resp, err = env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerMulti, SelectedOptions: []int{0, 2, 3}},
	}, identity)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if *resp.Attempt.Score != 0 {
		t.Fatalf("expected score 0 for superset answer, got %v", *resp.Attempt.Score)
	}
}

func TestSubmitAnswerRejectsMismatchedPayload(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	_, err := env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerText, Text: "not a choice"},
	}, identity)
	if !errors.Is(err, ErrInvalidAnswerPayload) {
		t.Fatalf("expected ErrInvalidAnswerPayload for kind mismatch, got %v", err)
	}

	_, err = env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(99)},
	}, identity)
	if !errors.Is(err, ErrInvalidAnswerPayload) {
		t.Fatalf("expected ErrInvalidAnswerPayload for unknown index, got %v", err)
	}
}

func TestSubmitAnswerVersionConflict(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	// A second tab still holding the start version loses after the first
	// tab submits.
	staleVersion := resp.Attempt.Version
	_, err := env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: staleVersion,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(1)},
	}, identity)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	_, err = env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: staleVersion,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(2)},
	}, identity)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestQuestionTimeoutSkipsForward(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{QuestionTimeLimitSec: 30})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	env.clock.Advance(31 * time.Second)

	resp, err := env.service.NextQuestion(context.Background(), resp.Attempt.ID, identity)
	if err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if resp.Question == nil || resp.Question.ID != "q2" {
		t.Fatalf("expected q2 after timeout skip, got %+v", resp.Question)
	}
	if resp.Attempt.Cursor != 1 {
		t.Fatalf("expected cursor 1 after skip, got %d", resp.Attempt.Cursor)
	}
	if resp.Attempt.Status != models.AttemptActive {
		t.Fatalf("question timeout must not expire the attempt, got %s", resp.Attempt.Status)
	}

	// The skipped question has no answer record.
	stored, _ := env.repo.storedAttempt(resp.Attempt.ID)
	if stored.Cursor != 1 {
		t.Fatalf("expected persisted cursor 1, got %d", stored.Cursor)
	}
	answers, _ := env.repo.Answer().ListByAttempt(context.Background(), nil, resp.Attempt.ID)
	if len(answers) != 0 {
		t.Fatalf("expected no answers after skip, got %d", len(answers))
	}
}

func TestQuestionTimeoutDiscardsLateAnswer(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{QuestionTimeLimitSec: 30})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	env.clock.Advance(31 * time.Second)

	_, err := env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(1)},
	}, identity)
	if !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("expected ErrAttemptExpired for late submit, got %v", err)
	}

	stored, _ := env.repo.storedAttempt(resp.Attempt.ID)
	if stored.Status != models.AttemptExpired {
		t.Fatalf("expected attempt expired, got %s", stored.Status)
	}
	answers, _ := env.repo.Answer().ListByAttempt(context.Background(), nil, resp.Attempt.ID)
	if len(answers) != 0 {
		t.Fatalf("late answer must be discarded, found %d records", len(answers))
	}
}

func TestAttemptDeadlineExpiresOnNextQuestion(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{MaxAttemptTimeSec: 60})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	env.clock.Advance(61 * time.Second)

	// Fetching past the deadline is not an error: the attempt transitions
	// and the client is told it is done.
	resp, err := env.service.NextQuestion(context.Background(), resp.Attempt.ID, identity)
	if err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if !resp.Done || resp.Question != nil {
		t.Fatalf("expected done with no question, got %+v", resp)
	}
	if resp.Attempt.Status != models.AttemptExpired {
		t.Fatalf("expected expired status, got %s", resp.Attempt.Status)
	}

	published := env.publisher.GetPublishedEvents()
	last := published[len(published)-1]
	if last.Type != events.EventAttemptExpired {
		t.Fatalf("expected attempt.expired event, got %s", last.Type)
	}

	// Further writes are refused.
	_, err = env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(1)},
	}, identity)
	if !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("expected ErrAttemptExpired, got %v", err)
	}
}

func TestFinishRequiresAllAnswered(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{RequireAllAnswered: true})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	_, err := env.service.Finish(context.Background(), resp.Attempt.ID, resp.Attempt.Version, identity)
	if !errors.Is(err, ErrIncompleteAttempt) {
		t.Fatalf("expected ErrIncompleteAttempt, got %v", err)
	}
}

func TestFinishSubmitsAndRevealsScore(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{RevealScore: models.RevealAfterSubmit})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")
	attemptID := resp.Attempt.ID

	// Scores stay hidden while active under after_submit.
	if resp.Attempt.Score != nil {
		t.Fatal("score must be hidden while active")
	}

	resp, err := env.service.SubmitAnswer(context.Background(), attemptID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(1)},
	}, identity)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	view, err := env.service.Finish(context.Background(), attemptID, resp.Attempt.Version, identity)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if view.Status != models.AttemptSubmitted {
		t.Fatalf("expected submitted, got %s", view.Status)
	}
	if view.SubmittedAt == nil {
		t.Fatal("expected submitted_at set")
	}
	if view.Score == nil || *view.Score != 2 {
		t.Fatalf("expected revealed score 2, got %+v", view.Score)
	}
	if view.TimeLeftSec != nil {
		t.Fatal("terminal attempts carry no timers")
	}

	// Finishing again conflicts: the attempt already left active.
	_, err = env.service.Finish(context.Background(), attemptID, view.Version, identity)
	if !errors.Is(err, ErrAttemptNotActive) {
		t.Fatalf("expected ErrAttemptNotActive, got %v", err)
	}
}

func TestFinishVersionConflict(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	_, err := env.service.Finish(context.Background(), resp.Attempt.ID, resp.Attempt.Version+5, identity)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestCancelAttempt(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	view, err := env.service.Cancel(context.Background(), resp.Attempt.ID, resp.Attempt.Version, identity)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if view.Status != models.AttemptCancelled {
		t.Fatalf("expected cancelled, got %s", view.Status)
	}

	published := env.publisher.GetPublishedEvents()
	last := published[len(published)-1]
	if last.Type != events.EventAttemptCancelled {
		t.Fatalf("expected attempt.cancelled event, got %s", last.Type)
	}
}

func TestGuestOwnershipByFingerprint(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")

	_, err := env.service.NextQuestion(context.Background(), resp.Attempt.ID, guestIdentity("alice", "fp-other"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign fingerprint, got %v", err)
	}
}

func TestMaxQuestionsSamplesSubset(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{ShuffleQuestions: true, MaxQuestions: 2})
	resp := env.startGuest(t, "alice", "fp-1")

	if resp.Attempt.Total != 2 {
		t.Fatalf("expected 2 sampled questions, got %d", resp.Attempt.Total)
	}
	stored, _ := env.repo.storedAttempt(resp.Attempt.ID)
	ids, err := stored.QuestionIDs()
	if err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected frozen order of 2, got %v", ids)
	}
}

func TestListByAssignmentOwnerOnly(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	env.startGuest(t, "alice", "fp-1")
	env.startGuest(t, "bob", "fp-2")

	list, err := env.service.ListByAssignment(context.Background(), env.assignment.ID, "owner-1", repositories.AttemptFilters{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if list.Total != 2 || len(list.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", list.Total)
	}

	_, err = env.service.ListByAssignment(context.Background(), env.assignment.ID, "intruder", repositories.AttemptFilters{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetDetailsFollowsServingOrder(t *testing.T) {
	env := newAttemptTestEnv(t, models.AttemptPolicy{})
	resp := env.startGuest(t, "alice", "fp-1")
	identity := guestIdentity("alice", "fp-1")

	_, err := env.service.SubmitAnswer(context.Background(), resp.Attempt.ID, &SubmitAnswerRequest{
		Version: resp.Attempt.Version,
		Payload: models.AnswerPayload{Kind: models.AnswerSingle, Selected: intPtr(1)},
	}, identity)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	details, err := env.service.GetDetails(context.Background(), resp.Attempt.ID, "owner-1")
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if len(details.Answers) != 3 {
		t.Fatalf("expected a row per served question, got %d", len(details.Answers))
	}
	if !details.Answers[0].Answered || details.Answers[1].Answered {
		t.Fatalf("expected only the first question answered, got %+v", details.Answers)
	}
	if details.Answers[0].Payload == nil || details.Answers[0].Payload.Kind != models.AnswerSingle {
		t.Fatalf("expected stored payload on answered row, got %+v", details.Answers[0].Payload)
	}
}
