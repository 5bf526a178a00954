package models

import "fmt"

// AnswerKind tags the payload union. It must match the question type the
// answer is submitted for.
type AnswerKind string

const (
	AnswerSingle AnswerKind = "single"
	AnswerMulti  AnswerKind = "multi"
	AnswerText   AnswerKind = "text"
	AnswerCode   AnswerKind = "code"
)

// AnswerPayload is the tagged answer variant carried on the wire and stored
// on the answer record. Exactly one branch is populated, selected by Kind.
type AnswerPayload struct {
	Kind            AnswerKind  `json:"kind" validate:"required,oneof=single multi text code"`
	Selected        *int        `json:"selected,omitempty"`
	SelectedOptions []int       `json:"selected_options,omitempty"`
	Text            string      `json:"text,omitempty"`
	Code            *CodeAnswer `json:"code,omitempty"`
}

type CodeAnswer struct {
	Language string `json:"language" validate:"max=40"`
	Body     string `json:"body" validate:"required,max=65536"`
}

// Validate checks the internal shape of the payload. Range checks against a
// concrete question (option count, type match) happen at scoring time.
func (p *AnswerPayload) Validate() error {
	switch p.Kind {
	case AnswerSingle:
		if p.Selected == nil {
			return fmt.Errorf("single answer requires selected")
		}
		if *p.Selected < 0 {
			return fmt.Errorf("selected must not be negative")
		}
	case AnswerMulti:
		if len(p.SelectedOptions) == 0 {
			return fmt.Errorf("multi answer requires selected_options")
		}
		seen := make(map[int]struct{}, len(p.SelectedOptions))
		for _, idx := range p.SelectedOptions {
			if idx < 0 {
				return fmt.Errorf("selected_options must not be negative")
			}
			if _, dup := seen[idx]; dup {
				return fmt.Errorf("selected_options must not repeat")
			}
			seen[idx] = struct{}{}
		}
	case AnswerText:
		if p.Text == "" {
			return fmt.Errorf("text answer requires text")
		}
	case AnswerCode:
		if p.Code == nil || p.Code.Body == "" {
			return fmt.Errorf("code answer requires code body")
		}
	default:
		return fmt.Errorf("unknown answer kind %q", p.Kind)
	}
	return nil
}

// MatchesQuestion reports whether the payload kind is valid for the question
// type.
func (p *AnswerPayload) MatchesQuestion(t QuestionType) bool {
	switch p.Kind {
	case AnswerSingle:
		return t == QuestionSingleChoice
	case AnswerMulti:
		return t == QuestionMultiChoice
	case AnswerText:
		return t == QuestionText
	case AnswerCode:
		return t == QuestionCode
	}
	return false
}
