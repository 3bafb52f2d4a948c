// Package rules holds the visibility rule store: rule types, the pattern and role
// compilers, the fail-closed validator and the frozen RuleSet handed to the
// access engine.
package rules

import (
	"fmt"
	"strings"
)

type Scope string

const (
	ScopeEntity       Scope = "ENTITY"
	ScopeAttribute    Scope = "ATTRIBUTE"
	ScopeRelationship Scope = "RELATIONSHIP"
	ScopeView         Scope = "VIEW"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeEntity, ScopeAttribute, ScopeRelationship, ScopeView:
		return true
	}
	return false
}

type Effect string

const (
	EffectInclude Effect = "INCLUDE"
	EffectExclude Effect = "EXCLUDE"
)

func (e Effect) Valid() bool {
	return e == EffectInclude || e == EffectExclude
}

type VisibilityRule struct {
	Scope         Scope  `json:"scope" yaml:"scope"`
	TargetPattern string `json:"targetPattern" yaml:"targetPattern"`
	RoleCondition string `json:"roleCondition" yaml:"roleCondition"`
	Effect        Effect `json:"effect" yaml:"effect"`
}

func (r VisibilityRule) String() string {
	return fmt.Sprintf("%s %s %s for %s", r.Effect, r.Scope, r.TargetPattern, r.RoleCondition)
}

// Pattern is a glob with at most one '*', anchored at both ends.
type Pattern struct {
	raw      string
	prefix   string
	suffix   string
	wildcard bool
}

func CompilePattern(raw string) (Pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return Pattern{}, fmt.Errorf("pattern is empty")
	}
	switch strings.Count(raw, "*") {
	case 0:
		return Pattern{raw: raw, prefix: raw}, nil
	case 1:
		idx := strings.IndexByte(raw, '*')
		return Pattern{raw: raw, prefix: raw[:idx], suffix: raw[idx+1:], wildcard: true}, nil
	default:
		return Pattern{}, fmt.Errorf("pattern %q has more than one wildcard", raw)
	}
}

func (p Pattern) Match(target string) bool {
	if !p.wildcard {
		return target == p.raw
	}
	return len(target) >= len(p.prefix)+len(p.suffix) &&
		strings.HasPrefix(target, p.prefix) &&
		strings.HasSuffix(target, p.suffix)
}

func (p Pattern) HasPrefix(prefix string) bool {
	return strings.HasPrefix(p.raw, prefix)
}

func (p Pattern) String() string { return p.raw }

// RoleCondition is "*", "role" or "!role".
type RoleCondition struct {
	raw    string
	role   string
	any    bool
	negate bool
}

func ParseRoleCondition(raw string) (RoleCondition, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != raw || raw == "" {
		return RoleCondition{}, fmt.Errorf("role condition %q is invalid", raw)
	}
	if raw == "*" {
		return RoleCondition{raw: raw, any: true}, nil
	}
	role, negate := strings.CutPrefix(raw, "!")
	if role == "" || strings.ContainsAny(role, " \t\n!*") {
		return RoleCondition{}, fmt.Errorf("role condition %q is invalid", raw)
	}
	return RoleCondition{raw: raw, role: role, negate: negate}, nil
}

func (c RoleCondition) Matches(roles map[string]struct{}) bool {
	if c.any {
		return true
	}
	_, has := roles[c.role]
	if c.negate {
		return !has
	}
	return has
}

func (c RoleCondition) String() string { return c.raw }

// CompiledRule is a validated rule with its matchers prepared.
type CompiledRule struct {
	rule    VisibilityRule
	pattern Pattern
	role    RoleCondition
}

func (c CompiledRule) Rule() VisibilityRule { return c.rule }
func (c CompiledRule) Scope() Scope { return c.rule.Scope }
func (c CompiledRule) Effect() Effect { return c.rule.Effect }
func (c CompiledRule) Pattern() Pattern { return c.pattern }

// AppliesTo reports whether the rule's role condition selects the given role set.
func (c CompiledRule) AppliesTo(roles map[string]struct{}) bool {
	return c.role.Matches(roles)
}

func (c CompiledRule) Matches(target string) bool {
	return c.pattern.Match(target)
}
