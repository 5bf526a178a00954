package services

import "errors"

// Sentinel errors mapped to HTTP statuses in the handlers package.
var (
	// Not found
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrTestNotFound       = errors.New("test not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrAnswerNotFound     = errors.New("answer not found")

	// Access
	ErrForbidden = errors.New("forbidden")

	// Protocol state
	ErrAttemptNotActive     = errors.New("attempt is not active")
	ErrVersionConflict      = errors.New("attempt version conflict")
	ErrAttemptExpired       = errors.New("attempt expired")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrNoMoreQuestions      = errors.New("no more questions")
	ErrIncompleteAttempt    = errors.New("not all questions answered")

	// Payloads and grading
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	ErrAnswerNotGradable    = errors.New("answer is not manually gradable")
	ErrValidationFailed     = errors.New("validation failed")
)
