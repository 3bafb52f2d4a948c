package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atvirokodosprendimai/registry/internal/rules"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

func mustRuleSet(t testing.TB, list ...rules.VisibilityRule) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Empty().WithOverlay(list)
	require.NoError(t, err)
	return rs
}

func userSchema() schema.Schema {
	return schema.Schema{
		EntityTypeURN: "urn:mg:type:user",
		Name:          "User",
		Attributes: []schema.AttributeDescriptor{
			{Code: "email", DataType: schema.TypeString},
			{Code: "secret_key", DataType: schema.TypeString},
			{Code: "display_name", DataType: schema.TypeString},
		},
		Relationships: []schema.RelationshipDescriptor{
			{Code: "member_of", TargetEntityTypeURN: "urn:mg:type:team", Cardinality: schema.ManyToMany},
			{Code: "owns", TargetEntityTypeURN: "urn:mg:type:server", Cardinality: schema.OneToMany},
		},
		Views: map[string]schema.View{
			"ownership": {Name: "ownership", Type: "graph", Root: "urn:mg:type:user", Edges: []string{"owns"}, Depth: 1},
			"org":       {Name: "org", Type: "graph", Root: "urn:mg:type:user", Edges: []string{"member_of"}, Depth: 2},
		},
	}
}

func TestSecretKeyHiddenFromNonAdmins(t *testing.T) {
	engine := NewEngine(mustRuleSet(t, rules.VisibilityRule{
		Scope: rules.ScopeAttribute, TargetPattern: "secret_key", RoleCondition: "!REGISTRY_ADMIN", Effect: rules.EffectExclude,
	}))
	admin := User{ID: "urn:mg:user:a", Roles: []string{"REGISTRY_ADMIN"}}
	user := User{ID: "urn:mg:user:u", Roles: []string{"REGISTRY_USER"}}

	_, ok := engine.PruneSchema(admin, userSchema()).Attribute("secret_key")
	assert.True(t, ok)
	_, ok = engine.PruneSchema(user, userSchema()).Attribute("secret_key")
	assert.False(t, ok)

	data := map[string]any{"email": "a@b.c", "secret_key": "s3cr3t"}
	assert.Equal(t, map[string]any{"email": "a@b.c"}, engine.PruneEntityData(user, data))
	assert.Equal(t, data, engine.PruneEntityData(admin, data))
	assert.Contains(t, data, "secret_key", "input must not be mutated")

	assert.Equal(t, []string{"secret_key"}, engine.HiddenAttributes(user, userSchema()))
	assert.Empty(t, engine.HiddenAttributes(admin, userSchema()))
}

func TestExcludeWinsOverInclude(t *testing.T) {
	engine := NewEngine(mustRuleSet(t,
		rules.VisibilityRule{Scope: rules.ScopeAttribute, TargetPattern: "email", RoleCondition: "*", Effect: rules.EffectInclude},
		rules.VisibilityRule{Scope: rules.ScopeAttribute, TargetPattern: "email", RoleCondition: "*", Effect: rules.EffectExclude},
		rules.VisibilityRule{Scope: rules.ScopeAttribute, TargetPattern: "email", RoleCondition: "REGISTRY_ADMIN", Effect: rules.EffectInclude},
	))
	admin := User{Roles: []string{"REGISTRY_ADMIN"}}
	assert.NotContains(t, engine.PruneEntityData(admin, map[string]any{"email": "x"}), "email")
}

func TestEntityRulesMatchTypeOrURN(t *testing.T) {
	engine := NewEngine(mustRuleSet(t,
		rules.VisibilityRule{Scope: rules.ScopeEntity, TargetPattern: "type:urn:mg:type:secret_*", RoleCondition: "!REGISTRY_ADMIN", Effect: rules.EffectExclude},
		rules.VisibilityRule{Scope: rules.ScopeEntity, TargetPattern: "urn:mg:server:prod-*", RoleCondition: "INTERN", Effect: rules.EffectExclude},
	))
	user := User{Roles: []string{"REGISTRY_USER"}}
	intern := User{Roles: []string{"REGISTRY_USER", "INTERN"}}
	admin := User{Roles: []string{"REGISTRY_ADMIN"}}

	assert.False(t, engine.CanViewEntity(user, "urn:mg:secret_vault:1", "urn:mg:type:secret_vault"))
	assert.True(t, engine.CanViewEntity(admin, "urn:mg:secret_vault:1", "urn:mg:type:secret_vault"))
	assert.True(t, engine.CanViewEntity(user, "urn:mg:server:prod-1", "urn:mg:type:server"))
	assert.False(t, engine.CanViewEntity(intern, "urn:mg:server:prod-1", "urn:mg:type:server"))

	assert.True(t, engine.HasEntityRestrictions(user))
	assert.False(t, engine.HasEntityRestrictions(admin))
}

func TestRelationshipAndViewPruning(t *testing.T) {
	engine := NewEngine(mustRuleSet(t,
		rules.VisibilityRule{Scope: rules.ScopeRelationship, TargetPattern: "rel:owns", RoleCondition: "*", Effect: rules.EffectExclude},
		rules.VisibilityRule{Scope: rules.ScopeView, TargetPattern: "org", RoleCondition: "!HR", Effect: rules.EffectExclude},
	))
	user := User{Roles: []string{"REGISTRY_USER"}}
	hr := User{Roles: []string{"HR"}}

	pruned := engine.PruneSchema(user, userSchema())
	_, ok := pruned.Relationship("owns")
	assert.False(t, ok)
	_, ok = pruned.Relationship("member_of")
	assert.True(t, ok)
	assert.Equal(t, []string{"ownership"}, pruned.ViewNames())

	assert.False(t, engine.CanUseView(user, "org"))
	assert.True(t, engine.CanUseView(hr, "org"))
	assert.False(t, engine.CanViewRelationship(hr, "owns"))
	assert.Equal(t, []string{"owns"}, engine.HiddenRelationships(user, userSchema()))

	original := userSchema()
	_ = engine.PruneSchema(user, original)
	assert.Len(t, original.Relationships, 2)
	assert.Len(t, original.Views, 2)
}

func TestNilEngineDenies(t *testing.T) {
	var engine *Engine
	user := User{Roles: []string{"REGISTRY_ADMIN"}}
	assert.False(t, engine.CanViewEntity(user, "urn:x", "urn:mg:type:x"))
	assert.False(t, engine.CanUseView(user, "org"))
	assert.Empty(t, engine.PruneSchema(user, userSchema()).Attributes)
	assert.Empty(t, engine.PruneEntityData(user, map[string]any{"email": "x"}))
}

func TestParseRoles(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, ParseRoles(" A, ,B ", "REGISTRY_USER"))
	assert.Equal(t, []string{"REGISTRY_USER"}, ParseRoles("", "REGISTRY_USER"))
	assert.Nil(t, ParseRoles(" , ", ""))
}

var attributeKeys = []string{"email", "secret_key", "display_name", "api_key", "notes"}

func genAttributeRules() *rapid.Generator[[]rules.VisibilityRule] {
	rule := rapid.Custom(func(t *rapid.T) rules.VisibilityRule {
		return rules.VisibilityRule{
			Scope:         rules.ScopeAttribute,
			TargetPattern: rapid.SampledFrom([]string{"email", "secret_*", "*_key", "display_name", "*"}).Draw(t, "pattern"),
			RoleCondition: rapid.SampledFrom([]string{"*", "REGISTRY_ADMIN", "!REGISTRY_ADMIN", "AUDITOR"}).Draw(t, "role"),
			Effect:        rules.Effect(rapid.SampledFrom([]string{"INCLUDE", "EXCLUDE"}).Draw(t, "effect")),
		}
	})
	return rapid.SliceOfN(rule, 0, 5)
}

func genUser() *rapid.Generator[User] {
	return rapid.Custom(func(t *rapid.T) User {
		roles := rapid.SliceOfNDistinct(rapid.SampledFrom([]string{"REGISTRY_ADMIN", "REGISTRY_USER", "AUDITOR"}), 0, 3, rapid.ID[string]).Draw(t, "roles")
		return User{ID: "urn:mg:user:x", Roles: roles}
	})
}

func TestPruneEntityDataProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rs, err := rules.Empty().WithOverlay(genAttributeRules().Draw(t, "rules"))
		if err != nil {
			t.Fatalf("overlay: %v", err)
		}
		engine := NewEngine(rs)
		user := genUser().Draw(t, "user")

		data := map[string]any{}
		for _, k := range attributeKeys {
			if rapid.Bool().Draw(t, "has_"+k) {
				data[k] = k + "-value"
			}
		}

		once := engine.PruneEntityData(user, data)
		twice := engine.PruneEntityData(user, once)
		if len(once) != len(twice) {
			t.Fatalf("prune is not idempotent: %v vs %v", once, twice)
		}

		visible := map[string]struct{}{}
		sch := schema.Schema{EntityTypeURN: "urn:mg:type:user"}
		for _, k := range attributeKeys {
			sch.Attributes = append(sch.Attributes, schema.AttributeDescriptor{Code: k, DataType: schema.TypeString})
		}
		for _, a := range engine.PruneSchema(user, sch).Attributes {
			visible[a.Code] = struct{}{}
		}
		for k := range data {
			_, inPruned := once[k]
			_, inSchema := visible[k]
			if inPruned != inSchema {
				t.Fatalf("key %q: data says %v, schema says %v", k, inPruned, inSchema)
			}
			if inPruned && once[k] != data[k] {
				t.Fatalf("key %q value changed", k)
			}
		}
		if len(data) < len(once) {
			t.Fatalf("prune added keys")
		}
	})
}
