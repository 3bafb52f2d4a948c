package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/rules"
)

func TestSimulationReportsNewlyHiddenTargets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, secretRules)
	before := h.holder.Current()

	diff, err := h.service.Simulate(ctx, SimulationRequest{
		EntityType: "server",
		Role:       domain.DefaultRole,
		Overlay: []rules.VisibilityRule{
			{Scope: rules.ScopeAttribute, TargetPattern: "host*", RoleCondition: "*", Effect: rules.EffectExclude},
			{Scope: rules.ScopeRelationship, TargetPattern: "depends_on", RoleCondition: domain.DefaultRole, Effect: rules.EffectExclude},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:mg:type:server", diff.EntityTypeURN)
	assert.Equal(t, []string{"hostname"}, diff.NewlyHiddenAttributes)
	assert.Equal(t, []string{"depends_on"}, diff.NewlyHiddenRelationships)
	assert.Empty(t, diff.NewlyRevealedAttributes)
	assert.Empty(t, diff.NewlyRevealedRelationships)

	// secret_key is already hidden, so re-hiding it is not news.
	diff, err = h.service.Simulate(ctx, SimulationRequest{
		EntityType: "server",
		Role:       domain.DefaultRole,
		Overlay:    []rules.VisibilityRule{{Scope: rules.ScopeAttribute, TargetPattern: "secret_key", RoleCondition: "*", Effect: rules.EffectExclude}},
	})
	require.NoError(t, err)
	assert.Empty(t, diff.NewlyHiddenAttributes)

	assert.Same(t, before, h.holder.Current())
}

func TestSimulationRejectsInvalidOverlay(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.service.Simulate(context.Background(), SimulationRequest{
		EntityType: "server",
		Overlay:    []rules.VisibilityRule{{Scope: "TABLE", TargetPattern: "*", RoleCondition: "*", Effect: rules.EffectExclude}},
	})
	require.True(t, domain.IsValidation(err), "expected validation error, got %v", err)
	report, ok := domain.ReportOf(err)
	require.True(t, ok)
	assert.IsType(t, rules.Violations{}, report)
}

func TestSimulationEmptyOverlayIsEmptyDiff(t *testing.T) {
	h := newHarness(t, secretRules)
	roles := []string{domain.DefaultRole, domain.AdminRole, "AUDITOR", "AUDITOR,REGISTRY_ADMIN", ""}
	types := []string{"server", "user", "team"}

	rapid.Check(t, func(rt *rapid.T) {
		diff, err := h.service.Simulate(context.Background(), SimulationRequest{
			EntityType: rapid.SampledFrom(types).Draw(rt, "type"),
			Role:       rapid.SampledFrom(roles).Draw(rt, "role"),
		})
		if err != nil {
			rt.Fatalf("simulate: %v", err)
		}
		if len(diff.NewlyHiddenAttributes)+len(diff.NewlyRevealedAttributes)+len(diff.NewlyHiddenRelationships)+len(diff.NewlyRevealedRelationships) != 0 {
			rt.Fatalf("empty overlay produced a diff: %#v", diff)
		}
	})
}
