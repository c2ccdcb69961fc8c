package logbook

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/verkstad/toolmgmt/internal/infrastructure/validation"
)

var compensationValueRegex = regexp.MustCompile(`^[+-]?\d*\.?\d+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validation.New()
	// Registration only fails for empty tags.
	_ = v.RegisterValidation("compvalue", func(fl validator.FieldLevel) bool { //nolint:errcheck // see above
		return compensationValueRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("yymmdd", func(fl validator.FieldLevel) bool { //nolint:errcheck // see above
		s := fl.Field().String()
		if len(s) != 6 {
			return false
		}
		_, err := time.Parse("060102", s)
		return err == nil
	})
	return v
}

// Validate checks an entry struct against its tags.
func Validate(entry any) error {
	if err := validate.Struct(entry); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, validation.Message(err))
	}
	return nil
}
