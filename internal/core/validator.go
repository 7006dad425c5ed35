package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ticketwatch/internal/types"
)

// Validator wraps go-playground/validator with the engine's custom tags and
// converts failures into validation AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator. Field names in errors use the json tag.
//
// Custom tags:
//   - iana_tz: an IANA zone name time.LoadLocation accepts
//   - hhmm: a 24h "HH:MM" wall-clock time
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("iana_tz", func(fl validator.FieldLevel) bool {
		tz := fl.Field().String()
		if tz == "" {
			return false
		}
		_, err := time.LoadLocation(tz)
		return err == nil
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := types.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and returns nil or an *types.AppError whose
// details map each failing field to the rule it broke.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if v.logger != nil {
			v.logger.Warn("validator rejected input type", "error", err)
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	first := verrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		"invalid value for "+first.Field(),
		err,
		map[string]any{"fields": fields},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_with", "required_without":
		return types.ErrCodeValidationMissingField
	case "iana_tz":
		return types.ErrCodeValidationInvalidTimezone
	case "hhmm":
		return types.ErrCodeValidationQuietHours
	case "oneof":
		return types.ErrCodeValidationInvalidEnum
	case "gtfield", "ltfield":
		return types.ErrCodeValidationTimeWindow
	default:
		return types.ErrCodeValidationMissingField
	}
}
