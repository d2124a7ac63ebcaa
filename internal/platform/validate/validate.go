// Package validate plugs go-playground/validator into echo's Validator hook.
package validate

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	v := validator.New()

	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// Let numeric tags (gt, gte, ...) apply to decimal amounts.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return &CustomValidator{validator: v}
}

// Validate returns an apperr InvalidInput listing every failing field.
func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if err == nil {
		return nil
	}
	fields := cv.FormatValidationErrors(err)
	if len(fields) == 0 {
		return apperr.InvalidInput("%s", err.Error())
	}

	msgs := make([]string, 0, len(fields))
	for _, m := range fields {
		msgs = append(msgs, m)
	}
	sort.Strings(msgs)
	return apperr.InvalidInput("%s", strings.Join(msgs, "; "))
}

func (cv *CustomValidator) FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return out
	}
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "min":
			out[field] = field + " must be at least " + e.Param()
		case "max":
			out[field] = field + " must be at most " + e.Param()
		case "gt":
			out[field] = field + " must be greater than " + e.Param()
		case "gte":
			out[field] = field + " must be greater than or equal to " + e.Param()
		case "oneof":
			out[field] = field + " must be one of [" + e.Param() + "]"
		case "datetime":
			out[field] = field + " must match layout " + e.Param()
		case "uuid":
			out[field] = field + " must be a valid UUID"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}
