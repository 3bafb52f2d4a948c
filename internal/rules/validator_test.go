package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

func TestValidateCollectsEveryViolation(t *testing.T) {
	list := []VisibilityRule{
		{Scope: ScopeAttribute, TargetPattern: "secret_key", RoleCondition: "!REGISTRY_ADMIN", Effect: EffectExclude},
		{Scope: "FOO", TargetPattern: "a", RoleCondition: "*", Effect: EffectExclude},
		{Scope: ScopeView, TargetPattern: "a*b*", RoleCondition: "! spaced", Effect: "HIDE"},
	}

	compiled, err := Validate(list)
	require.Error(t, err)
	require.Nil(t, compiled)

	var violations Violations
	require.True(t, errors.As(err, &violations))
	require.Len(t, violations, 4)

	assert.Equal(t, 1, violations[0].Index)
	assert.Equal(t, "scope", violations[0].Field)
	for _, v := range violations[1:] {
		assert.Equal(t, 2, v.Index)
	}
}

func TestLoadBytesWrapsStartupValidation(t *testing.T) {
	_, err := LoadBytes([]byte("version: \"1\"\nrules:\n  - scope: FOO\n    targetPattern: x\n    roleCondition: \"*\"\n    effect: EXCLUDE\n"))
	require.Error(t, err)
	require.True(t, domain.IsStartupValidation(err))

	_, err = LoadBytes([]byte("version: 1\nunknown_key: true\n"))
	require.True(t, domain.IsStartupValidation(err))
}

func TestLoadBytesFreezesDocument(t *testing.T) {
	data := []byte(`{"version":"7","rules":[{"scope":"ATTRIBUTE","targetPattern":"secret_*","roleCondition":"!REGISTRY_ADMIN","effect":"EXCLUDE"}]}`)
	rs, err := LoadBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "7", rs.Version())
	assert.Equal(t, Checksum(data), rs.Checksum())
	assert.Len(t, rs.Checksum(), 16)
	assert.Equal(t, 1, rs.Len())
	assert.False(t, rs.LoadedAt().IsZero())
}

func TestPatternMatching(t *testing.T) {
	cases := []struct {
		pattern string
		target  string
		want    bool
	}{
		{"secret_key", "secret_key", true},
		{"secret_key", "secret_key2", false},
		{"secret_*", "secret_key", true},
		{"secret_*", "secret_", true},
		{"*_key", "api_key", true},
		{"*_key", "api_keys", false},
		{"*", "anything", true},
		{"type:urn:mg:type:*", "type:urn:mg:type:user", true},
		{"ab*ba", "aba", false},
	}
	for _, tc := range cases {
		p, err := CompilePattern(tc.pattern)
		require.NoError(t, err)
		assert.Equal(t, tc.want, p.Match(tc.target), "%s ~ %s", tc.pattern, tc.target)
	}
}

func TestRoleConditionMatches(t *testing.T) {
	admin := map[string]struct{}{"REGISTRY_ADMIN": {}}
	user := map[string]struct{}{"REGISTRY_USER": {}}

	negated, err := ParseRoleCondition("!REGISTRY_ADMIN")
	require.NoError(t, err)
	assert.False(t, negated.Matches(admin))
	assert.True(t, negated.Matches(user))

	exact, err := ParseRoleCondition("REGISTRY_ADMIN")
	require.NoError(t, err)
	assert.True(t, exact.Matches(admin))
	assert.False(t, exact.Matches(user))

	star, err := ParseRoleCondition("*")
	require.NoError(t, err)
	assert.True(t, star.Matches(nil))

	for _, bad := range []string{"", "!", " ROLE", "ROLE ", "RO LE", "!!ROLE", "RO*"} {
		_, err := ParseRoleCondition(bad)
		assert.Error(t, err, bad)
	}
}

func TestWithOverlayLeavesBaseUntouched(t *testing.T) {
	base, err := LoadBytes([]byte(`{"version":"1","rules":[]}`))
	require.NoError(t, err)

	merged, err := base.WithOverlay([]VisibilityRule{{Scope: ScopeAttribute, TargetPattern: "email", RoleCondition: "*", Effect: EffectExclude}})
	require.NoError(t, err)
	assert.Equal(t, 0, base.Len())
	assert.Equal(t, 1, merged.Len())

	_, err = base.WithOverlay([]VisibilityRule{{Scope: "NOPE", TargetPattern: "email", RoleCondition: "*", Effect: EffectExclude}})
	require.Error(t, err)
}

func TestHolderReloadKeepsPreviousOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nrules: []\n"), 0o600))

	rs, err := Load(path)
	require.NoError(t, err)
	holder := NewHolder(rs)

	require.NoError(t, os.WriteFile(path, []byte("version: \"2\"\nrules:\n  - scope: BAD\n"), 0o600))
	_, err = holder.Reload(path)
	require.Error(t, err)
	assert.Equal(t, "1", holder.Current().Version())

	require.NoError(t, os.WriteFile(path, []byte("version: \"3\"\nrules: []\n"), 0o600))
	next, err := holder.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, "3", next.Version())
	assert.Same(t, next, holder.Current())
}

func genRule() *rapid.Generator[VisibilityRule] {
	return rapid.Custom(func(t *rapid.T) VisibilityRule {
		return VisibilityRule{
			Scope:         Scope(rapid.SampledFrom([]string{"ENTITY", "ATTRIBUTE", "RELATIONSHIP", "VIEW", "FOO", ""}).Draw(t, "scope")),
			TargetPattern: rapid.SampledFrom([]string{"email", "secret_*", "*", "a*b*", "", "type:urn:mg:type:*"}).Draw(t, "pattern"),
			RoleCondition: rapid.SampledFrom([]string{"*", "REGISTRY_ADMIN", "!REGISTRY_ADMIN", "!", "", "A B"}).Draw(t, "role"),
			Effect:        Effect(rapid.SampledFrom([]string{"INCLUDE", "EXCLUDE", "HIDE"}).Draw(t, "effect")),
		}
	})
}

func wellFormed(r VisibilityRule) bool {
	if !r.Scope.Valid() || !r.Effect.Valid() {
		return false
	}
	if _, err := CompilePattern(r.TargetPattern); err != nil {
		return false
	}
	_, err := ParseRoleCondition(r.RoleCondition)
	return err == nil
}

func TestValidateAcceptsIffEveryRuleWellFormed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		list := rapid.SliceOfN(genRule(), 0, 6).Draw(t, "rules")

		want := true
		for _, r := range list {
			want = want && wellFormed(r)
		}

		compiled, err := Validate(list)
		if want {
			if err != nil {
				t.Fatalf("expected valid set, got %v", err)
			}
			if len(compiled) != len(list) {
				t.Fatalf("compiled %d of %d rules", len(compiled), len(list))
			}
			return
		}
		if err == nil {
			t.Fatalf("expected a violation for %+v", list)
		}
	})
}
