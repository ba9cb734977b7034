package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"parking/internal/types"
)

// platePattern matches a plate after upper-casing and removing spaces.
var platePattern = regexp.MustCompile(`^[A-Z0-9-]{5,10}$`)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the engine's custom tags:
//
//	plate           vehicle plate, compared after normalization
//	billing_unit    one of hora, dia, semana, mes
//	payment_status  one of approved, rejected, cancelled, pending
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator. Field names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "plate", func(fl validator.FieldLevel) bool {
		normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(fl.Field().String()), " ", ""))
		return platePattern.MatchString(normalized)
	})
	mustRegister(v, "billing_unit", func(fl validator.FieldLevel) bool {
		return types.BillingUnit(fl.Field().String()).Valid()
	})
	mustRegister(v, "payment_status", func(fl validator.FieldLevel) bool {
		return types.PaymentStatus(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// ValidateStruct checks s against its validate tags. A failure is an
// *types.AppError whose details carry "validation_errors". The code is
// validation_missing_required_field when every failure is a required rule
// and validation_invalid_field otherwise.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	code := types.ErrCodeValidationMissingField
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() != "required" {
			code = types.ErrCodeValidationInvalidField
		}
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: describe(fe),
		})
	}

	return types.NewAppErrorWithDetails(code, out[0].Message, nil, map[string]any{
		"validation_errors": out,
	})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "plate":
		return fe.Field() + " is not a valid vehicle plate"
	case "billing_unit":
		return fe.Field() + " must be one of hora, dia, semana, mes"
	case "payment_status":
		return fe.Field() + " must be one of approved, rejected, cancelled, pending"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
