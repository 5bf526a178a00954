package models

// ScoreRevealMode controls when a participant may see their score.
type ScoreRevealMode string

const (
	RevealNever       ScoreRevealMode = "never"
	RevealAlways      ScoreRevealMode = "always"
	RevealAfterSubmit ScoreRevealMode = "after_submit"
)

// AttemptPolicy is frozen onto every attempt at start time. Later edits to
// the assignment never affect attempts already in flight.
type AttemptPolicy struct {
	ShuffleQuestions     bool            `json:"shuffle_questions"`
	ShuffleAnswers       bool            `json:"shuffle_answers"`
	MaxQuestions         int             `json:"max_questions" validate:"min=0"`
	MaxAttempts          int             `json:"max_attempts" validate:"min=0,max=100"`
	QuestionTimeLimitSec int             `json:"question_time_limit_sec" validate:"min=0,max=7200"`
	MaxAttemptTimeSec    int             `json:"max_attempt_time_sec" validate:"min=0,max=86400"`
	RequireAllAnswered   bool            `json:"require_all_answered"`
	LockAnswerOnConfirm  bool            `json:"lock_answer_on_confirm"`
	AllowNavigation      bool            `json:"allow_navigation"`
	ShowElapsedTime      bool            `json:"show_elapsed_time"`
	RevealScore          ScoreRevealMode `json:"reveal_score" validate:"omitempty,oneof=never always after_submit"`
	RevealSolutions      bool            `json:"reveal_solutions"`
}
