package models

import (
	"fmt"
	"strings"
	"unicode"
)

// Reference types point at records owned by other systems (template store,
// identity provider). They are never dereferenced here, only checked for shape.
type (
	ActivityRef string
	GoalRef     string
	ClientRef   string
	AssigneeRef string
	UserRef     string
)

const maxRefLength = 128

func (r ActivityRef) Validate() error { return validateRef("activity_id", string(r)) }
func (r GoalRef) Validate() error     { return validateRef("goal_id", string(r)) }
func (r ClientRef) Validate() error   { return validateRef("client_id", string(r)) }
func (r AssigneeRef) Validate() error { return validateRef("assignee_id", string(r)) }
func (r UserRef) Validate() error     { return validateRef("created_by", string(r)) }

func validateRef(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(v) > maxRefLength {
		return fmt.Errorf("%s exceeds %d characters", field, maxRefLength)
	}
	if strings.IndexFunc(v, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%s must not contain whitespace", field)
	}
	return nil
}
