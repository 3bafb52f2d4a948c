package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

func TestProjectFillsDefaults(t *testing.T) {
	raw := map[string]any{
		"schema": map[string]any{
			"attributes": []any{
				map[string]any{"name": "display_name", "required": true},
				map[string]any{"code": "tier", "type": "enum", "enum_options": []any{"gold", map[string]any{"value": "silver_plus"}}},
				map[string]any{"code": "tags", "data_type": "STRING", "array": true},
			},
			"relationships": []any{
				map[string]any{"code": "owned_by", "target": "UserAccount"},
			},
		},
		"views": map[string]any{
			"ownership": map[string]any{"edges": []any{"owned_by"}, "nodes": []any{"user_account"}},
		},
	}

	s, err := Project("urn:mg:type:server_node", raw)
	require.NoError(t, err)

	assert.Equal(t, "Server Node", s.Name)
	require.Len(t, s.Attributes, 3)
	assert.Equal(t, "Display Name", s.Attributes[0].Label)
	assert.Equal(t, TypeString, s.Attributes[0].DataType)
	assert.True(t, s.Attributes[0].IsRequired)
	assert.Equal(t, TypeEnum, s.Attributes[1].DataType)
	assert.Equal(t, []EnumOption{{Value: "gold", Label: "Gold"}, {Value: "silver_plus", Label: "Silver Plus"}}, s.Attributes[1].EnumOptions)
	assert.True(t, s.Attributes[2].IsArray)

	rel, ok := s.Relationship("owned_by")
	require.True(t, ok)
	assert.Equal(t, ManyToMany, rel.Cardinality)
	assert.Equal(t, "urn:mg:type:user_account", rel.TargetEntityTypeURN)

	view, ok := s.View("ownership")
	require.True(t, ok)
	assert.Equal(t, "graph", view.Type)
	assert.Equal(t, 1, view.Depth)
	assert.Equal(t, "urn:mg:type:server_node", view.Root)
	assert.Equal(t, []string{"urn:mg:type:user_account"}, view.Nodes)
}

func TestProjectRejectsUnknownDataType(t *testing.T) {
	_, err := Project("urn:mg:type:x", map[string]any{
		"attributes": []any{map[string]any{"code": "size", "data_type": "BLOB"}},
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = Project("urn:mg:type:x", map[string]any{
		"attributes": []any{map[string]any{"code": "level", "data_type": "ENUM"}},
	})
	assert.True(t, domain.IsValidation(err))
}

func TestParseCardinalityAndLimits(t *testing.T) {
	c, err := ParseCardinality("n-1")
	require.NoError(t, err)
	assert.Equal(t, ManyToOne, c)
	assert.Equal(t, 1, c.MaxOutbound())
	assert.Equal(t, 0, c.MaxInbound())

	assert.Equal(t, 1, OneToMany.MaxInbound())
	assert.Equal(t, 0, OneToMany.MaxOutbound())
	assert.True(t, ManyToMany.Narrows(OneToOne))
	assert.False(t, OneToOne.Narrows(ManyToMany))
	assert.False(t, OneToMany.Narrows(OneToMany))

	_, err = ParseCardinality("SOME")
	assert.Error(t, err)
}

func TestDecodeTaggedValues(t *testing.T) {
	v, err := Decode(AttributeDescriptor{Code: "count", DataType: TypeInteger}, float64(42))
	require.NoError(t, err)
	n, ok := v.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	_, ok = v.Text()
	assert.False(t, ok)

	_, err = Decode(AttributeDescriptor{Code: "count", DataType: TypeInteger}, 4.5)
	assert.Error(t, err)

	v, err = Decode(AttributeDescriptor{Code: "born", DataType: TypeDate}, "2024-02-29")
	require.NoError(t, err)
	d, ok := v.Date()
	require.True(t, ok)
	assert.Equal(t, time.February, d.Month())
	assert.Equal(t, "2024-02-29", v.Raw())

	_, err = Decode(AttributeDescriptor{Code: "seen", DataType: TypeDateTime}, "yesterday")
	assert.Error(t, err)

	tier := AttributeDescriptor{Code: "tier", DataType: TypeEnum, EnumOptions: []EnumOption{{Value: "gold"}}}
	_, err = Decode(tier, "bronze")
	assert.Error(t, err)
	v, err = Decode(tier, "gold")
	require.NoError(t, err)
	option, ok := v.Enum()
	assert.True(t, ok)
	assert.Equal(t, "gold", option)
	_, ok = v.Text()
	assert.False(t, ok)

	v, err = Decode(AttributeDescriptor{Code: "ratio", DataType: TypeDecimal}, 0.25)
	require.NoError(t, err)
	ratio, ok := v.Decimal()
	assert.True(t, ok)
	assert.InDelta(t, 0.25, ratio, 1e-9)

	v, err = Decode(AttributeDescriptor{Code: "seen", DataType: TypeDateTime}, "2024-03-01T10:00:00Z")
	require.NoError(t, err)
	seen, ok := v.DateTime()
	require.True(t, ok)
	assert.Equal(t, 10, seen.Hour())
	_, ok = v.Date()
	assert.False(t, ok)

	tags := AttributeDescriptor{Code: "tags", DataType: TypeString, IsArray: true}
	v, err = Decode(tags, []any{"a", "b"})
	require.NoError(t, err)
	assert.True(t, v.IsArray())
	assert.Len(t, v.Items(), 2)
	_, err = Decode(tags, "a")
	assert.Error(t, err)

	v, err = Decode(tags, nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestValidateAttributes(t *testing.T) {
	s := Schema{
		EntityTypeURN: "urn:mg:type:user",
		Attributes: []AttributeDescriptor{
			{Code: "email", DataType: TypeString, IsRequired: true},
			{Code: "age", DataType: TypeInteger},
		},
	}

	assert.Empty(t, s.ValidateAttributes(map[string]any{"email": "a@b.c", "age": float64(3)}, false))
	assert.Len(t, s.ValidateAttributes(map[string]any{"age": float64(3)}, false), 1)
	assert.Empty(t, s.ValidateAttributes(map[string]any{"age": float64(3)}, true))
	assert.Len(t, s.ValidateAttributes(map[string]any{"email": "x", "nickname": "y"}, false), 1)
	assert.Len(t, s.ValidateAttributes(map[string]any{"email": nil}, true), 1)

	untyped := Schema{EntityTypeURN: "urn:mg:type:blob"}
	assert.Empty(t, untyped.ValidateAttributes(map[string]any{"anything": 1}, false))
}

func TestFSMTargetAndProjection(t *testing.T) {
	f := DefaultFSM()
	target, err := f.Target(domain.StateActive, "", "archive")
	require.NoError(t, err)
	assert.Equal(t, domain.StateArchived, target)
	assert.True(t, f.CanTransition(domain.StateArchived, domain.StateActive))
	assert.False(t, f.CanTransition(domain.StateArchived, domain.StateDraft))

	projected, err := ProjectFSM(domain.DefaultFSMURN, DefaultFSMDocument())
	require.NoError(t, err)
	assert.Equal(t, f.StateCodes(), projected.StateCodes())
	assert.Equal(t, f.Initial, projected.Initial)

	_, err = ProjectFSM("urn:mg:fsm:bad", map[string]any{
		"states":      []any{"a"},
		"transitions": []any{map[string]any{"from": "a", "to": "b"}},
	})
	assert.True(t, domain.IsValidation(err))
}

func TestResolveTypeURN(t *testing.T) {
	assert.Equal(t, "urn:mg:type:user_account", ResolveTypeURN("UserAccount"))
	assert.Equal(t, "urn:mg:type:user_account", ResolveTypeURN("user account"))
	assert.Equal(t, "urn:mg:type:server", ResolveTypeURN("urn:mg:type:server"))
}

type mapGetter map[string]domain.Entity

func (m mapGetter) GetEntity(_ context.Context, urn string) (domain.Entity, error) {
	if e, ok := m[urn]; ok {
		return e, nil
	}
	return domain.Entity{}, domain.NotFound(urn)
}

func TestResolveRequiresEntityTypeMeta(t *testing.T) {
	store := mapGetter{
		"urn:mg:type:user": {URN: "urn:mg:type:user", EntityTypeURN: domain.EntityTypeMetaURN, Attributes: map[string]any{"name": "User"}},
		"urn:mg:user:1":    {URN: "urn:mg:user:1", EntityTypeURN: "urn:mg:type:user"},
	}
	s, err := Resolve(context.Background(), store, "urn:mg:type:user")
	require.NoError(t, err)
	assert.Equal(t, "User", s.Name)

	_, err = Resolve(context.Background(), store, "urn:mg:user:1")
	assert.True(t, domain.IsNotFound(err))

	f, err := ResolveFSM(context.Background(), store, domain.DefaultFSMURN)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultFSMURN, f.URN)

	store["urn:mg:type:user"].Attributes["states"] = []any{"draft"}
	_, err = ResolveFSM(context.Background(), store, "urn:mg:type:user")
	assert.True(t, domain.IsNotFound(err), "entity type resolved as a lifecycle: %v", err)
}

func TestMergeAttributeDefinition(t *testing.T) {
	doc := map[string]any{"attributes": []any{map[string]any{"code": "email", "label": "Email"}}}
	next, merged, existed := MergeAttributeDefinition(doc, "email", map[string]any{"is_required": true})
	assert.True(t, existed)
	assert.Equal(t, true, merged["is_required"])
	assert.Equal(t, "Email", merged["label"])

	_, hasRequired := doc["attributes"].([]any)[0].(map[string]any)["is_required"]
	assert.False(t, hasRequired)
	assert.Len(t, next["attributes"], 1)

	_, _, existed = MergeAttributeDefinition(doc, "phone", map[string]any{"label": "Phone"})
	assert.False(t, existed)
}
