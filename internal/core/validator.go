package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"flui/internal/billing"
	"flui/internal/types"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects field errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid reports whether no errors were recorded. Warnings do not count.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator and registers the domain tags:
//
//	plan_tier      one of FREE, GROWTH, PRO
//	credit_action  an action of the cost table
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered. Field
// names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "plan_tier", func(fl validator.FieldLevel) bool {
		return types.PlanTier(fl.Field().String()).IsValid()
	})
	mustRegister(v, "credit_action", func(fl validator.FieldLevel) bool {
		_, err := billing.ActionCost(types.CreditAction(fl.Field().String()))
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct validates s and returns a *types.AppError whose code follows
// the first failed rule. All failures are listed under
// Details["validation_errors"].
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}

	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": result.Errors},
	)
}

// ValidateStructWithWarnings validates s and returns every failure.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	var result ValidationResult

	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err.Error())
		result.Errors = append(result.Errors, ValidationError{
			Code:    string(types.ErrCodeValidationInvalidBody),
			Message: "request body could not be validated",
		})
		return result
	}

	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    string(codeForTag(fe.Tag())),
			Message: messageFor(fe),
		})
	}
	return result
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_without", "required_if":
		return types.ErrCodeValidationMissingField
	case "plan_tier":
		return types.ErrCodeValidationInvalidTier
	case "credit_action":
		return types.ErrCodeValidationInvalidAction
	case "min", "gte", "max", "lte":
		return types.ErrCodeValidationInvalidCost
	default:
		return types.ErrCodeValidationInvalidBody
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return fe.Field() + " is required"
	case "plan_tier":
		return fmt.Sprintf("%s must be one of %v", fe.Field(), types.AllPlanTiers)
	case "credit_action":
		return fmt.Sprintf("%s %q is not a known credit action", fe.Field(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed the %s rule", fe.Field(), fe.Tag())
	}
}
