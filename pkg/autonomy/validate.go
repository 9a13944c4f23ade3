package autonomy

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/stewardhq/steward/pkg/catalog"
)

var clockPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// validate is shared across calls; validator.Validate is safe for concurrent use
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// approval_mode: one of the four approval modes
	_ = v.RegisterValidation("approval_mode", func(fl validator.FieldLevel) bool {
		return IsValidMode(fl.Field().String())
	})

	// clock: HH:MM wall-clock string
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})

	return v
}

// Validate checks that settings are well formed: modes are known, thresholds
// are in [0,1], quiet-hours clock strings parse, and the timezone resolves.
// Malformed settings are rejected here, at the update boundary, so Resolve
// stays a total function.
func Validate(s *Settings) error {
	if s == nil {
		return fmt.Errorf("settings cannot be nil")
	}

	if err := validate.Struct(s); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("invalid settings: field %s failed %s validation", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid settings: %w", err)
	}

	for category := range s.CategorySettings {
		if !catalog.IsValidCategory(string(category)) {
			return fmt.Errorf("invalid settings: unknown category %q", category)
		}
	}

	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}
