package rules

import (
	"fmt"
	"strings"
)

// Violation describes one invalid field of one rule.
type Violation struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("rule[%d].%s: %s", v.Index, v.Field, v.Message)
}

// Violations is every problem found in a rule list. It is returned as a whole;
// validation never stops at the first error.
type Violations []Violation

func (v Violations) Error() string {
	parts := make([]string, 0, len(v))
	for _, item := range v {
		parts = append(parts, item.String())
	}
	return fmt.Sprintf("%d invalid visibility rule(s): %s", len(v), strings.Join(parts, "; "))
}

// Validate checks every rule and compiles the valid ones. Any violation fails the
// whole set.
func Validate(list []VisibilityRule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(list))
	var violations Violations

	for i, rule := range list {
		ok := true
		if !rule.Scope.Valid() {
			violations = append(violations, Violation{Index: i, Field: "scope", Message: fmt.Sprintf("unknown scope %q", rule.Scope)})
			ok = false
		}
		if !rule.Effect.Valid() {
			violations = append(violations, Violation{Index: i, Field: "effect", Message: fmt.Sprintf("effect must be INCLUDE or EXCLUDE, got %q", rule.Effect)})
			ok = false
		}
		pattern, err := CompilePattern(rule.TargetPattern)
		if err != nil {
			violations = append(violations, Violation{Index: i, Field: "targetPattern", Message: err.Error()})
			ok = false
		}
		role, err := ParseRoleCondition(rule.RoleCondition)
		if err != nil {
			violations = append(violations, Violation{Index: i, Field: "roleCondition", Message: err.Error()})
			ok = false
		}
		if ok {
			compiled = append(compiled, CompiledRule{rule: rule, pattern: pattern, role: role})
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return compiled, nil
}
