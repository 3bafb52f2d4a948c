package schema

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

type Cardinality string

const (
	OneToOne   Cardinality = "ONE_TO_ONE"
	OneToMany  Cardinality = "ONE_TO_MANY"
	ManyToOne  Cardinality = "MANY_TO_ONE"
	ManyToMany Cardinality = "MANY_TO_MANY"
)

func ParseCardinality(raw string) (Cardinality, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "MANY_TO_MANY", "N-N", "M-N":
		return ManyToMany, nil
	case "ONE_TO_ONE", "1-1":
		return OneToOne, nil
	case "ONE_TO_MANY", "1-N":
		return OneToMany, nil
	case "MANY_TO_ONE", "N-1":
		return ManyToOne, nil
	}
	return "", fmt.Errorf("unknown cardinality %q", raw)
}

// MaxOutbound is the number of edges of one definition a single "from" entity may
// hold. Zero means unbounded.
func (c Cardinality) MaxOutbound() int {
	if c == OneToOne || c == ManyToOne {
		return 1
	}
	return 0
}

// MaxInbound is the number of edges of one definition a single "to" entity may
// receive. Zero means unbounded.
func (c Cardinality) MaxInbound() int {
	if c == OneToOne || c == OneToMany {
		return 1
	}
	return 0
}

// Narrows reports whether moving from c to next tightens either side.
func (c Cardinality) Narrows(next Cardinality) bool {
	return tighter(c.MaxOutbound(), next.MaxOutbound()) || tighter(c.MaxInbound(), next.MaxInbound())
}

func tighter(before, after int) bool {
	if after == 0 {
		return false
	}
	return before == 0 || after < before
}

type RelationshipDefinition struct {
	URN         string      `json:"urn"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	FromTypeURN string      `json:"from_entity_type_urn"`
	ToTypeURN   string      `json:"to_entity_type_urn"`
	Cardinality Cardinality `json:"cardinality"`
	Acyclic     bool        `json:"acyclic"`
}

// Project normalizes an entity-type metadata document. Attributes and
// relationships may sit at the top level or under "schema".
func Project(typeURN string, raw map[string]any) (Schema, error) {
	out := Schema{
		EntityTypeURN:   typeURN,
		Name:            firstString(raw, "name", "label"),
		Domain:          firstString(raw, "domain"),
		Class:           firstString(raw, "class"),
		LifecycleFSMURN: firstString(raw, "lifecycle_fsm_urn"),
		Attributes:      []AttributeDescriptor{},
		Relationships:   []RelationshipDescriptor{},
		Views:           map[string]View{},
	}
	if out.Name == "" {
		out.Name = titleCase(lastSegment(typeURN))
	}

	body := raw
	if nested, ok := raw["schema"].(map[string]any); ok {
		body = nested
	}

	for i, item := range listOf(body["attributes"]) {
		m, ok := item.(map[string]any)
		if !ok {
			return Schema{}, domain.Validationf("%s: attributes[%d]: %v", typeURN, i, errNotAMap)
		}
		attr, err := ProjectAttribute(m)
		if err != nil {
			return Schema{}, domain.Validationf("%s: attributes[%d]: %v", typeURN, i, err)
		}
		out.Attributes = append(out.Attributes, attr)
	}

	for i, item := range listOf(body["relationships"]) {
		m, ok := item.(map[string]any)
		if !ok {
			return Schema{}, domain.Validationf("%s: relationships[%d]: %v", typeURN, i, errNotAMap)
		}
		rel, err := projectRelationship(m)
		if err != nil {
			return Schema{}, domain.Validationf("%s: relationships[%d]: %v", typeURN, i, err)
		}
		out.Relationships = append(out.Relationships, rel)
	}

	views, _ := raw["views"].(map[string]any)
	if views == nil {
		views, _ = body["views"].(map[string]any)
	}
	for name, item := range views {
		m, ok := item.(map[string]any)
		if !ok {
			return Schema{}, domain.Validationf("%s: views.%s: %v", typeURN, name, errNotAMap)
		}
		out.Views[name] = projectView(typeURN, name, m)
	}

	return out, nil
}

func ProjectAttribute(m map[string]any) (AttributeDescriptor, error) {
	code := firstString(m, "code", "name")
	if code == "" {
		return AttributeDescriptor{}, fmt.Errorf("attribute code is required")
	}
	dt, err := ParseDataType(firstString(m, "data_type", "type"))
	if err != nil {
		return AttributeDescriptor{}, fmt.Errorf("attribute %q: %w", code, err)
	}
	attr := AttributeDescriptor{
		Code:         code,
		Label:        firstString(m, "label"),
		DataType:     dt,
		IsRequired:   firstBool(m, "is_required", "required"),
		IsArray:      firstBool(m, "is_array", "array"),
		IsUnique:     firstBool(m, "is_unique", "unique"),
		DefaultValue: m["default_value"],
		Description:  firstString(m, "description"),
	}
	if attr.Label == "" {
		attr.Label = titleCase(code)
	}
	for _, opt := range listOf(m["enum_options"]) {
		switch v := opt.(type) {
		case string:
			attr.EnumOptions = append(attr.EnumOptions, EnumOption{Value: v, Label: titleCase(v)})
		case map[string]any:
			value := firstString(v, "value", "code")
			label := firstString(v, "label")
			if label == "" {
				label = titleCase(value)
			}
			attr.EnumOptions = append(attr.EnumOptions, EnumOption{Value: value, Label: label})
		}
	}
	if dt == TypeEnum && len(attr.EnumOptions) == 0 {
		return AttributeDescriptor{}, fmt.Errorf("attribute %q: ENUM requires enum_options", code)
	}
	return attr, nil
}

func projectRelationship(m map[string]any) (RelationshipDescriptor, error) {
	code := firstString(m, "code", "name")
	if code == "" {
		return RelationshipDescriptor{}, fmt.Errorf("relationship code is required")
	}
	card, err := ParseCardinality(firstString(m, "cardinality"))
	if err != nil {
		return RelationshipDescriptor{}, fmt.Errorf("relationship %q: %w", code, err)
	}
	rel := RelationshipDescriptor{
		Code:                code,
		Label:               firstString(m, "label"),
		TargetEntityTypeURN: ResolveTypeURN(firstString(m, "target_entity_type_urn", "target")),
		Cardinality:         card,
		IsRequired:          firstBool(m, "is_required", "required"),
		DefinitionURN:       firstString(m, "definition_urn"),
	}
	if rel.Label == "" {
		rel.Label = titleCase(code)
	}
	return rel, nil
}

func projectView(typeURN, name string, m map[string]any) View {
	v := View{
		Name:  name,
		Type:  firstString(m, "type"),
		Root:  firstString(m, "root"),
		Depth: 1,
	}
	if v.Type == "" {
		v.Type = "graph"
	}
	if v.Root == "" {
		v.Root = typeURN
	} else {
		v.Root = ResolveTypeURN(v.Root)
	}
	if d, ok := intOf(m["depth"]); ok && d >= 0 {
		v.Depth = d
	}
	for _, n := range listOf(m["nodes"]) {
		if s, ok := n.(string); ok && s != "" {
			v.Nodes = append(v.Nodes, ResolveTypeURN(s))
		}
	}
	for _, e := range listOf(m["edges"]) {
		if s, ok := e.(string); ok && s != "" {
			v.Edges = append(v.Edges, s)
		}
	}
	return v
}

func ProjectRelationshipDefinition(urn string, raw map[string]any) (RelationshipDefinition, error) {
	card, err := ParseCardinality(firstString(raw, "cardinality"))
	if err != nil {
		return RelationshipDefinition{}, domain.Validationf("%s: %v", urn, err)
	}
	def := RelationshipDefinition{
		URN:         urn,
		Code:        firstString(raw, "code", "name"),
		Name:        firstString(raw, "name", "label"),
		FromTypeURN: ResolveTypeURN(firstString(raw, "from_entity_type_urn")),
		ToTypeURN:   ResolveTypeURN(firstString(raw, "to_entity_type_urn")),
		Cardinality: card,
		Acyclic:     firstBool(raw, "acyclic", "hierarchical"),
	}
	if def.Code == "" {
		def.Code = lastSegment(urn)
	}
	if def.Name == "" {
		def.Name = titleCase(def.Code)
	}
	return def, nil
}

// MergeAttributeDefinition applies changes to one attribute of an entity-type
// document. It returns the new document, the merged raw attribute and whether
// the attribute existed before.
func MergeAttributeDefinition(typeDoc map[string]any, code string, changes map[string]any) (map[string]any, map[string]any, bool) {
	doc := make(map[string]any, len(typeDoc))
	for k, v := range typeDoc {
		doc[k] = v
	}
	container := doc
	if nested, ok := typeDoc["schema"].(map[string]any); ok {
		copied := make(map[string]any, len(nested))
		for k, v := range nested {
			copied[k] = v
		}
		doc["schema"] = copied
		container = copied
	}

	existing := listOf(container["attributes"])
	next := make([]any, 0, len(existing)+1)
	var merged map[string]any
	found := false
	for _, item := range existing {
		m, ok := item.(map[string]any)
		if !ok || firstString(m, "code", "name") != code {
			next = append(next, item)
			continue
		}
		found = true
		merged = make(map[string]any, len(m)+len(changes))
		for k, v := range m {
			merged[k] = v
		}
		for k, v := range changes {
			merged[k] = v
		}
		next = append(next, merged)
	}
	if !found {
		merged = map[string]any{"code": code}
		for k, v := range changes {
			merged[k] = v
		}
		next = append(next, merged)
	}
	container["attributes"] = next
	return doc, merged, found
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return false
}

func listOf(v any) []any {
	switch items := v.(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, item)
		}
		return out
	case []string:
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, item)
		}
		return out
	}
	return nil
}

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func lastSegment(urn string) string {
	if idx := strings.LastIndexByte(urn, ':'); idx >= 0 {
		return urn[idx+1:]
	}
	return urn
}

func titleCase(code string) string {
	words := strings.FieldsFunc(code, func(r rune) bool { return r == '_' || r == '-' || r == ' ' || r == '.' })
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func toSnake(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == ' ' || r == '-':
			b.WriteRune('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}
