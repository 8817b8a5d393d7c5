package rules

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidScenario      = errors.New("invalid scenario")
	ErrMissingRequiredField = errors.New("missing required field")
)

// ScenarioError is a caller-correctable rule violation. Kind is one of the
// sentinel errors above; Rule names the constraint that failed.
type ScenarioError struct {
	Kind    error
	Rule    string
	Group   string
	Field   string
	Message string
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("%v: %s (%s.%s): %s", e.Kind, e.Rule, e.Group, e.Field, e.Message)
}

func (e *ScenarioError) Unwrap() error { return e.Kind }

func invalidScenario(rule, group, field, msg string) error {
	return &ScenarioError{Kind: ErrInvalidScenario, Rule: rule, Group: group, Field: field, Message: msg}
}

func missingField(rule, group, field, msg string) error {
	return &ScenarioError{Kind: ErrMissingRequiredField, Rule: rule, Group: group, Field: field, Message: msg}
}
