package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"labcore/pkg/domain"
)

// Keys name fields, derived values, constants and summary metrics. They are
// lowercase identifiers so they can appear unquoted in formulas.
var fieldKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("fieldkey", validateFieldKey)
}

func validateFieldKey(fl validator.FieldLevel) bool {
	return fieldKeyPattern.MatchString(fl.Field().String())
}

// Error reports every structural or reference problem found in a schema.
type Error struct {
	TestType domain.TestTypeID
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema %s invalid: %s", e.TestType, strings.Join(e.Problems, "; "))
}

// CycleError is returned when derived fields depend on each other in a loop.
type CycleError struct {
	TestType domain.TestTypeID
	Keys     []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("schema %s has a dependency cycle among %s", e.TestType, strings.Join(e.Keys, ", "))
}

// structProblems runs struct-tag validation and flattens the failures.
func structProblems(def domain.TestTypeSchema) []string {
	err := validate.Struct(def)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, describeFieldError(fe))
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "fieldkey":
		return fmt.Sprintf("%s %q must be a lowercase identifier", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s %v must be one of [%s]", path, fe.Value(), fe.Param())
	case "required_if", "required_without":
		return fmt.Sprintf("%s is required (%s %s)", path, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s %s", path, fe.Tag(), fe.Param())
	}
}
