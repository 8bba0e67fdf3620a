package auth

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// signup lists the registration fields that have a fixed shape.
type signup struct {
	Email    string `validate:"required,email,max=255"`
	Username string `validate:"required,min=3,max=50,username"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Letters, digits and underscores only.
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			default:
				return false
			}
		}
		return true
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidUsername reports whether name is 3-50 letters, digits or underscores.
func ValidUsername(name string) bool {
	return validate.Var(name, "required,min=3,max=50,username") == nil
}

// validateSignup maps the first failing field to its sentinel error.
func validateSignup(email, username string) error {
	err := validate.Struct(signup{Email: email, Username: username})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	if fieldErrs[0].Field() == "Email" {
		return ErrInvalidEmail
	}
	return ErrInvalidUsername
}
