// forms.go
package secretariat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	formValidator *validator.Validate
)

// formValidate returns the shared validator; field names come from json tags.
func formValidate() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		formValidator = v
	})
	return formValidator
}

// validateForm runs the struct tags of form and returns one message per field.
func validateForm(form any) ValidationErrors {
	errs := ValidationErrors{}
	err := formValidate().Struct(form)
	if err == nil {
		return errs
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs["form"] = err.Error()
		return errs
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if _, seen := errs[field]; seen {
			continue
		}
		errs[field] = fieldMessage(fe)
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	label := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return label + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", label, fe.Param())
	default:
		return label + " is invalid"
	}
}

// humanize turns "preferred_time_of_day" into "Preferred time of day".
func humanize(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	s = strings.TrimSuffix(s, " id")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// merge copies src into dst without overwriting existing keys.
func (v ValidationErrors) merge(src ValidationErrors) {
	for k, msg := range src {
		if _, ok := v[k]; !ok {
			v[k] = msg
		}
	}
}

// ---------- step forms ----------

type initialInfoForm struct {
	RequestType       RequestType `json:"request_type" validate:"required"`
	NumberOfAttendees int         `json:"number_of_attendees" validate:"min=1"`
}

type detailsSingleDateForm struct {
	Purpose            string `json:"purpose" validate:"required"`
	PreferredDate      Date   `json:"preferred_date" validate:"required"`
	PreferredTimeOfDay string `json:"preferred_time_of_day" validate:"required"`
}

type detailsDateRangeForm struct {
	Purpose            string `json:"purpose" validate:"required"`
	PreferredStartDate Date   `json:"preferred_start_date" validate:"required"`
	PreferredEndDate   Date   `json:"preferred_end_date" validate:"required"`
	PreferredTimeOfDay string `json:"preferred_time_of_day" validate:"required"`
}
