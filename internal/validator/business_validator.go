package validator

import (
	"fmt"
	"strings"

	"github.com/classmark/attempt-service/internal/models"
)

// ValidateAttemptPolicy checks cross-field policy rules that struct tags
// cannot express.
func (v *Validator) ValidateAttemptPolicy(policy *models.AttemptPolicy) ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, ToValidationErrors(v.validate.Struct(policy))...)

	// A per-question budget larger than the whole attempt budget can never
	// be spent.
	if policy.MaxAttemptTimeSec > 0 && policy.QuestionTimeLimitSec > policy.MaxAttemptTimeSec {
		errs = append(errs, ValidationError{
			Field:   "question_time_limit_sec",
			Message: "cannot exceed max_attempt_time_sec",
			Value:   policy.QuestionTimeLimitSec,
			Rule:    "business_logic",
		})
	}

	if policy.RevealScore == "" {
		policy.RevealScore = models.RevealAfterSubmit
	}

	return errs
}

// ValidateParticipantFields checks the owner-defined form fields for an
// assignment.
func (v *Validator) ValidateParticipantFields(fields []models.ParticipantField) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool, len(fields))
	for i, field := range fields {
		if verrs := ToValidationErrors(v.validate.Struct(&field)); len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		key := strings.TrimSpace(field.Key)
		if seen[key] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fields[%d].key", i),
				Message: "duplicate field key",
				Value:   field.Key,
				Rule:    "business_logic",
			})
		}
		seen[key] = true
	}

	return errs
}

// ValidateCollectedFields checks a participant's submitted values against
// the assignment's field definitions.
func (v *Validator) ValidateCollectedFields(defs []models.ParticipantField, values map[string]string) ValidationErrors {
	var errs ValidationErrors

	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.Key] = true
		if def.Required && strings.TrimSpace(values[def.Key]) == "" {
			errs = append(errs, ValidationError{
				Field:   def.Key,
				Message: "is required",
				Rule:    "required",
			})
		}
	}

	for key := range values {
		if !known[key] {
			errs = append(errs, ValidationError{
				Field:   key,
				Message: "is not a known field",
				Value:   values[key],
				Rule:    "business_logic",
			})
		}
	}

	return errs
}
