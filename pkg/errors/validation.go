package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// ValidateStruct runs the struct's validate tags. The first failing field
// becomes a ValidationError; every failure is listed in its context.
func ValidateStruct(v interface{}) *ReconcilerError {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}
	return FromValidation(err)
}

// FromValidation converts validator failures into a ValidationError.
func FromValidation(err error) *ReconcilerError {
	fields, ok := err.(validator.ValidationErrors)
	if !ok || len(fields) == 0 {
		return Wrap(err, CategoryValidation, CodeOutOfRange, "validation failed")
	}

	failures := ProcessValidationErrors(fields)
	first := fields[0]
	code := CodeOutOfRange
	if strings.HasPrefix(first.Tag(), "required") {
		code = CodeMissingField
	}
	return ValidationError(code, first.Namespace(), first.Value(), err).
		WithContext("failures", failures)
}

// ProcessValidationErrors maps every failing field to a short
// "tag=param" description, sorted.
func ProcessValidationErrors(fields validator.ValidationErrors) []string {
	out := make([]string, 0, len(fields))
	for _, fe := range fields {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = append(out, fmt.Sprintf("%s: %s", fe.Namespace(), rule))
	}
	sort.Strings(out)
	return out
}
