// Package access evaluates visibility rules against a caller's roles. Every
// function here is pure over (roles, rule set, target).
package access

import (
	"sort"
	"strings"

	"github.com/atvirokodosprendimai/registry/internal/rules"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

const (
	typePrefix = "type:"
	relPrefix  = "rel:"
)

type User struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (u User) roleSet() map[string]struct{} {
	set := make(map[string]struct{}, len(u.Roles))
	for _, r := range u.Roles {
		set[r] = struct{}{}
	}
	return set
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u User) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// Engine is bound to one frozen RuleSet for its lifetime.
type Engine struct {
	rules []rules.CompiledRule
}

func NewEngine(rs *rules.RuleSet) *Engine {
	if rs == nil {
		return nil
	}
	return &Engine{rules: rs.Compiled()}
}

// excluded reports whether an applicable EXCLUDE rule of scope hides the target.
// INCLUDE rules never restore a target hidden by an EXCLUDE.
func (e *Engine) excluded(roles map[string]struct{}, scope rules.Scope, target func(rules.CompiledRule) string) bool {
	for _, rule := range e.rules {
		if rule.Scope() != scope || rule.Effect() != rules.EffectExclude {
			continue
		}
		if !rule.AppliesTo(roles) {
			continue
		}
		if rule.Matches(target(rule)) {
			return true
		}
	}
	return false
}

// CanViewEntity is default-allow. A nil engine denies.
func (e *Engine) CanViewEntity(user User, urn, entityType string) bool {
	if e == nil {
		return false
	}
	return !e.excluded(user.roleSet(), rules.ScopeEntity, func(rule rules.CompiledRule) string {
		if rule.Pattern().HasPrefix(typePrefix) {
			return typePrefix + entityType
		}
		return urn
	})
}

// HasEntityRestrictions reports whether any ENTITY exclusion applies to the user,
// which tells list endpoints whether per-row filtering can change counts.
func (e *Engine) HasEntityRestrictions(user User) bool {
	if e == nil {
		return true
	}
	roles := user.roleSet()
	for _, rule := range e.rules {
		if rule.Scope() == rules.ScopeEntity && rule.Effect() == rules.EffectExclude && rule.AppliesTo(roles) {
			return true
		}
	}
	return false
}

func (e *Engine) CanUseView(user User, viewName string) bool {
	if e == nil {
		return false
	}
	return !e.excluded(user.roleSet(), rules.ScopeView, func(rules.CompiledRule) string { return viewName })
}

func (e *Engine) attributeHidden(roles map[string]struct{}, code string) bool {
	return e.excluded(roles, rules.ScopeAttribute, func(rules.CompiledRule) string { return code })
}

func (e *Engine) relationshipHidden(roles map[string]struct{}, code string) bool {
	return e.excluded(roles, rules.ScopeRelationship, func(rule rules.CompiledRule) string {
		if rule.Pattern().HasPrefix(relPrefix) {
			return relPrefix + code
		}
		return code
	})
}

// CanViewRelationship applies RELATIONSHIP rules to a relationship code.
func (e *Engine) CanViewRelationship(user User, code string) bool {
	if e == nil {
		return false
	}
	return !e.relationshipHidden(user.roleSet(), code)
}

// PruneSchema returns a copy of s without the attributes, relationships and views
// hidden from the user. A nil engine yields an empty schema.
func (e *Engine) PruneSchema(user User, s schema.Schema) schema.Schema {
	out := s.Clone()
	if e == nil {
		out.Attributes = []schema.AttributeDescriptor{}
		out.Relationships = []schema.RelationshipDescriptor{}
		out.Views = map[string]schema.View{}
		return out
	}
	roles := user.roleSet()

	attrs := out.Attributes[:0]
	for _, a := range out.Attributes {
		if !e.attributeHidden(roles, a.Code) {
			attrs = append(attrs, a)
		}
	}
	out.Attributes = attrs

	rels := out.Relationships[:0]
	for _, r := range out.Relationships {
		if !e.relationshipHidden(roles, r.Code) {
			rels = append(rels, r)
		}
	}
	out.Relationships = rels

	for name := range out.Views {
		if e.excluded(roles, rules.ScopeView, func(rules.CompiledRule) string { return name }) {
			delete(out.Views, name)
		}
	}
	return out
}

// PruneEntityData removes hidden attribute keys from a payload. It uses the same
// ATTRIBUTE matcher as PruneSchema and never mutates its input.
func (e *Engine) PruneEntityData(user User, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	if e == nil {
		return out
	}
	roles := user.roleSet()
	for k, v := range data {
		if !e.attributeHidden(roles, k) {
			out[k] = v
		}
	}
	return out
}

// HiddenAttributes lists the schema attribute codes hidden from the user.
func (e *Engine) HiddenAttributes(user User, s schema.Schema) []string {
	visible := map[string]struct{}{}
	for _, a := range e.PruneSchema(user, s).Attributes {
		visible[a.Code] = struct{}{}
	}
	var hidden []string
	for _, a := range s.Attributes {
		if _, ok := visible[a.Code]; !ok {
			hidden = append(hidden, a.Code)
		}
	}
	sort.Strings(hidden)
	return hidden
}

func (e *Engine) HiddenRelationships(user User, s schema.Schema) []string {
	visible := map[string]struct{}{}
	for _, r := range e.PruneSchema(user, s).Relationships {
		visible[r.Code] = struct{}{}
	}
	var hidden []string
	for _, r := range s.Relationships {
		if _, ok := visible[r.Code]; !ok {
			hidden = append(hidden, r.Code)
		}
	}
	sort.Strings(hidden)
	return hidden
}

// ParseRoles splits a comma separated role header, falling back to def when empty.
func ParseRoles(raw string, def string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	if len(roles) == 0 && def != "" {
		roles = []string{def}
	}
	return roles
}
