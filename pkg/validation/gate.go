// Package validation gates wizard navigation on the fields owned by the current step.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/intake/pkg/metrics"
	"github.com/Ramsey-B/intake/pkg/models"
)

// TotalSteps is the number of wizard steps
const TotalSteps = 4

// StepFields maps each step index to the field groups it owns.
var StepFields = map[int][]models.StepKey{
	1: {models.StepOneInfo},
	2: {models.StepTwoSamples},
	3: {models.StepThreeTests},
	4: {models.StepFourConfirm},
}

// Error is the structured error returned when a draft fails validation.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 1 {
		return "1 field is invalid"
	}
	return fmt.Sprintf("%d fields are invalid", len(e.Fields))
}

// Gate validates drafts step by step.
type Gate struct {
	validate   *validator.Validate
	stepFields map[int][]models.StepKey
}

func NewGate() *Gate {
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
	registerRules(v)

	return &Gate{validate: v, stepFields: StepFields}
}

// Total returns the number of steps the gate knows about
func (g *Gate) Total() int {
	return len(g.stepFields)
}

// Fields returns the field groups owned by step
func (g *Gate) Fields(step int) []models.StepKey {
	return append([]models.StepKey(nil), g.stepFields[step]...)
}

// ValidateStep validates only the groups owned by step. A group that was never
// filled in validates as its zero value.
func (g *Gate) ValidateStep(draft models.FormDraft, step int) models.ValidationOutcome {
	outcome := g.validateStep(draft, step)

	result := "valid"
	if !outcome.Valid {
		result = "invalid"
	}
	metrics.StepValidationsTotal.WithLabelValues(strconv.Itoa(step), result).Inc()

	return outcome
}

func (g *Gate) validateStep(draft models.FormDraft, step int) models.ValidationOutcome {
	outcome := models.ValidationOutcome{Step: step, Valid: true}

	keys, ok := g.stepFields[step]
	if !ok {
		outcome.Valid = false
		outcome.Errors = map[string]string{"step": fmt.Sprintf("unknown step %d", step)}
		return outcome
	}

	for _, key := range keys {
		for path, msg := range g.validateGroup(draft, key) {
			if outcome.Errors == nil {
				outcome.Errors = map[string]string{}
			}
			outcome.Errors[path] = msg
		}
	}
	outcome.Valid = len(outcome.Errors) == 0
	return outcome
}

// ValidateAll validates every step, in order. It does not count toward step validation metrics.
func (g *Gate) ValidateAll(draft models.FormDraft) models.ValidationOutcome {
	outcome := models.ValidationOutcome{Valid: true}
	for step := 1; step <= g.Total(); step++ {
		stepOutcome := g.validateStep(draft, step)
		for path, msg := range stepOutcome.Errors {
			if outcome.Errors == nil {
				outcome.Errors = map[string]string{}
			}
			outcome.Errors[path] = msg
		}
	}
	outcome.Valid = len(outcome.Errors) == 0
	return outcome
}

// Check validates the whole draft and returns an *Error when any field is invalid.
func (g *Gate) Check(draft models.FormDraft) error {
	outcome := g.ValidateAll(draft)
	if outcome.Valid {
		return nil
	}
	return &Error{Fields: outcome.Errors}
}

func (g *Gate) validateGroup(draft models.FormDraft, key models.StepKey) map[string]string {
	group, err := draft.StepOrZero(key)
	if err != nil {
		return map[string]string{string(key): err.Error()}
	}
	return FieldErrors(key, g.validate.Struct(group))
}

// FieldErrors converts a validator error into field-path-keyed messages rooted at key.
func FieldErrors(key models.StepKey, err error) map[string]string {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{string(key): err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(key, fe.Namespace())] = message(fe)
	}
	return out
}

// fieldPath swaps the struct type name heading a validator namespace for the step key
func fieldPath(key models.StepKey, namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return string(key) + namespace[i:]
	}
	return string(key) + "." + namespace
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s item(s)", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case tagRequiredForLine:
		return field + " is required when the contact channel is line"
	case tagRequiredForOther:
		return field + ` is required when "other" is selected`
	case tagRequiredForPost:
		return field + " is required for postal delivery"
	default:
		return fmt.Sprintf("%s failed the %s rule", field, fe.Tag())
	}
}

// FirstInvalidField returns the first invalid path in form order, for focusing the client.
func FirstInvalidField(outcome models.ValidationOutcome) (string, bool) {
	if len(outcome.Errors) == 0 {
		return "", false
	}

	paths := make([]string, 0, len(outcome.Errors))
	for path := range outcome.Errors {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		oi, oj := stepOrder(paths[i]), stepOrder(paths[j])
		if oi != oj {
			return oi < oj
		}
		return paths[i] < paths[j]
	})
	return paths[0], true
}

func stepOrder(path string) int {
	for i, key := range models.StepKeys {
		if path == string(key) || strings.HasPrefix(path, string(key)+".") {
			return i
		}
	}
	return len(models.StepKeys)
}
