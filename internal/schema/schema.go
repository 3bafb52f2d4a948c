// Package schema projects stored entity-type documents into canonical attribute,
// relationship, view and lifecycle descriptors. It applies no access control.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

type DataType string

const (
	TypeString   DataType = "STRING"
	TypeInteger  DataType = "INTEGER"
	TypeDecimal  DataType = "DECIMAL"
	TypeBoolean  DataType = "BOOLEAN"
	TypeDate     DataType = "DATE"
	TypeDateTime DataType = "DATETIME"
	TypeEnum     DataType = "ENUM"
	TypeJSON     DataType = "JSON"
)

func ParseDataType(raw string) (DataType, error) {
	if strings.TrimSpace(raw) == "" {
		return TypeString, nil
	}
	dt := DataType(strings.ToUpper(strings.TrimSpace(raw)))
	switch dt {
	case TypeString, TypeInteger, TypeDecimal, TypeBoolean, TypeDate, TypeDateTime, TypeEnum, TypeJSON:
		return dt, nil
	}
	return "", fmt.Errorf("unknown data_type %q", raw)
}

type EnumOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type AttributeDescriptor struct {
	Code         string       `json:"code"`
	Label        string       `json:"label"`
	DataType     DataType     `json:"data_type"`
	IsRequired   bool         `json:"is_required"`
	IsArray      bool         `json:"is_array"`
	IsUnique     bool         `json:"is_unique"`
	DefaultValue any          `json:"default_value,omitempty"`
	EnumOptions  []EnumOption `json:"enum_options,omitempty"`
	Description  string       `json:"description,omitempty"`
}

func (a AttributeDescriptor) HasEnumOption(value string) bool {
	for _, opt := range a.EnumOptions {
		if opt.Value == value {
			return true
		}
	}
	return false
}

type RelationshipDescriptor struct {
	Code                string      `json:"code"`
	Label               string      `json:"label"`
	TargetEntityTypeURN string      `json:"target_entity_type_urn"`
	Cardinality         Cardinality `json:"cardinality"`
	IsRequired          bool        `json:"is_required"`
	DefinitionURN       string      `json:"definition_urn,omitempty"`
}

type View struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Root  string   `json:"root"`
	Nodes []string `json:"nodes"`
	Edges []string `json:"edges"`
	Depth int      `json:"depth"`
}

type Schema struct {
	EntityTypeURN   string                   `json:"entity_type_urn"`
	Name            string                   `json:"name"`
	Domain          string                   `json:"domain,omitempty"`
	Class           string                   `json:"class,omitempty"`
	LifecycleFSMURN string                   `json:"lifecycle_fsm_urn,omitempty"`
	Attributes      []AttributeDescriptor    `json:"attributes"`
	Relationships   []RelationshipDescriptor `json:"relationships"`
	Views           map[string]View          `json:"views"`
}

func (s Schema) Attribute(code string) (AttributeDescriptor, bool) {
	for _, a := range s.Attributes {
		if a.Code == code {
			return a, true
		}
	}
	return AttributeDescriptor{}, false
}

func (s Schema) Relationship(code string) (RelationshipDescriptor, bool) {
	for _, r := range s.Relationships {
		if r.Code == code {
			return r, true
		}
	}
	return RelationshipDescriptor{}, false
}

func (s Schema) View(name string) (View, bool) {
	v, ok := s.Views[name]
	return v, ok
}

func (s Schema) ViewNames() []string {
	names := make([]string, 0, len(s.Views))
	for name := range s.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep enough copy for pruning: slices and the view map are new.
func (s Schema) Clone() Schema {
	out := s
	out.Attributes = append([]AttributeDescriptor(nil), s.Attributes...)
	out.Relationships = append([]RelationshipDescriptor(nil), s.Relationships...)
	out.Views = make(map[string]View, len(s.Views))
	for k, v := range s.Views {
		out.Views[k] = v
	}
	return out
}

// ResolveTypeURN expands a short type name such as "user_account" into its URN.
func ResolveTypeURN(typeName string) string {
	trimmed := strings.TrimSpace(typeName)
	if trimmed == "" || strings.HasPrefix(trimmed, "urn:") {
		return trimmed
	}
	return domain.TypeURNPrefix + toSnake(trimmed)
}

// Getter is the read port the resolvers need.
type Getter interface {
	GetEntity(ctx context.Context, urn string) (domain.Entity, error)
}

// Resolve loads an entity type and projects it.
func Resolve(ctx context.Context, store Getter, typeURN string) (Schema, error) {
	typeEntity, err := store.GetEntity(ctx, typeURN)
	if err != nil {
		return Schema{}, err
	}
	if typeEntity.EntityTypeURN != domain.EntityTypeMetaURN {
		return Schema{}, domain.NotFound(fmt.Sprintf("entity type %s", typeURN))
	}
	return Project(typeURN, typeEntity.Attributes)
}

// ResolveOrEmpty is Resolve that treats a missing type as an untyped schema.
func ResolveOrEmpty(ctx context.Context, store Getter, typeURN string) (Schema, error) {
	s, err := Resolve(ctx, store, typeURN)
	if err != nil {
		if domain.IsNotFound(err) {
			return Schema{EntityTypeURN: typeURN, Views: map[string]View{}}, nil
		}
		return Schema{}, err
	}
	return s, nil
}

// ResolveFSM loads a lifecycle machine. An empty URN means the default machine,
// which falls back to DefaultFSM until one is stored.
func ResolveFSM(ctx context.Context, store Getter, fsmURN string) (FSM, error) {
	if strings.TrimSpace(fsmURN) == "" {
		fsmURN = domain.DefaultFSMURN
	}
	e, err := store.GetEntity(ctx, fsmURN)
	if err != nil {
		if domain.IsNotFound(err) && fsmURN == domain.DefaultFSMURN {
			return DefaultFSM(), nil
		}
		return FSM{}, err
	}
	if e.EntityTypeURN != domain.FSMDefinitionMetaURN {
		return FSM{}, domain.NotFound(fmt.Sprintf("fsm definition %s", fsmURN))
	}
	return ProjectFSM(fsmURN, e.Attributes)
}

func ResolveDefinition(ctx context.Context, store Getter, definitionURN string) (RelationshipDefinition, domain.Entity, error) {
	e, err := store.GetEntity(ctx, definitionURN)
	if err != nil {
		return RelationshipDefinition{}, domain.Entity{}, err
	}
	if e.EntityTypeURN != domain.RelationshipDefMetaURN {
		return RelationshipDefinition{}, domain.Entity{}, domain.NotFound(fmt.Sprintf("relationship definition %s", definitionURN))
	}
	def, err := ProjectRelationshipDefinition(definitionURN, e.Attributes)
	return def, e, err
}

// ValidateAttributes checks a full (or, when partial, a subset of) attribute map
// against the schema and returns one message per problem.
func (s Schema) ValidateAttributes(attrs map[string]any, partial bool) []string {
	var problems []string
	if len(s.Attributes) == 0 {
		return nil
	}
	for key := range attrs {
		if _, ok := s.Attribute(key); !ok {
			problems = append(problems, fmt.Sprintf("attribute %q is not defined on %s", key, s.EntityTypeURN))
		}
	}
	for _, attr := range s.Attributes {
		raw, present := attrs[attr.Code]
		if !present || raw == nil {
			if attr.IsRequired && !partial && attr.DefaultValue == nil {
				problems = append(problems, fmt.Sprintf("attribute %q is required", attr.Code))
			}
			if present && raw == nil && attr.IsRequired {
				problems = append(problems, fmt.Sprintf("attribute %q is required and cannot be null", attr.Code))
			}
			continue
		}
		if _, err := Decode(attr, raw); err != nil {
			problems = append(problems, err.Error())
		}
	}
	sort.Strings(problems)
	return problems
}

// ApplyDefaults fills absent attributes that declare a default value.
func (s Schema) ApplyDefaults(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	for _, attr := range s.Attributes {
		if _, ok := out[attr.Code]; !ok && attr.DefaultValue != nil {
			out[attr.Code] = attr.DefaultValue
		}
	}
	return out
}

var errNotAMap = errors.New("expected an object")
