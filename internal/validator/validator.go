package validator

import (
	"github.com/go-playground/validator/v10"
)

// Validator wraps validator/v10 struct validation plus the business rules
// that cannot be expressed as field tags.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{validate: validator.New()}
	return v
}

// Validate runs struct tag validation and returns ValidationErrors or nil.
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}
