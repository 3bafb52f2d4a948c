package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/registry/internal/access"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/graph"
)

const hiddenUsersRules = `
version: "test-2"
rules:
  - scope: ENTITY
    targetPattern: "urn:mg:user:*"
    roleCondition: "!REGISTRY_ADMIN"
    effect: EXCLUDE
  - scope: RELATIONSHIP
    targetPattern: "rel:depends_on"
    roleCondition: AUDITOR
    effect: EXCLUDE
`

func attributeCodes(t *testing.T, h *harness, user access.User, typeName string) []string {
	t.Helper()
	s, err := h.service.GetSchema(context.Background(), user, typeName)
	require.NoError(t, err)
	codes := make([]string, 0, len(s.Attributes))
	for _, a := range s.Attributes {
		codes = append(codes, a.Code)
	}
	return codes
}

func TestSecretKeyHiddenFromNonAdmins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, secretRules)

	assert.NotContains(t, attributeCodes(t, h, member, "user"), "secret_key")
	assert.Contains(t, attributeCodes(t, h, admin, "user"), "secret_key")

	view, err := h.service.GetEntity(ctx, member, "urn:mg:user:alice")
	require.NoError(t, err)
	assert.NotContains(t, view.Entity.Attributes, "secret_key")
	assert.Equal(t, "alice@example.com", view.Entity.Attributes["email"])
	require.Len(t, view.Outgoing, 1)
	assert.Equal(t, "primary_team", view.Outgoing[0].DefinitionCode)

	view, err = h.service.GetEntity(ctx, admin, "urn:mg:user:alice")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", view.Entity.Attributes["secret_key"])

	events, err := h.service.ListAuditEvents(ctx, member, "urn:mg:user:alice", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.NotContains(t, e.Payload, "s3cr3t")
	}
}

func TestHiddenEntitiesLookMissing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, hiddenUsersRules)

	_, err := h.service.GetEntity(ctx, member, "urn:mg:user:alice")
	assert.True(t, domain.IsNotFound(err), "hidden entity: %v", err)

	page, err := h.service.ListEntities(ctx, member, domain.EntityQuery{TypeURN: "user"})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.EqualValues(t, 0, page.Total)

	page, err = h.service.ListEntities(ctx, admin, domain.EntityQuery{TypeURN: "user"})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.EqualValues(t, 1, page.Total)

	team, err := h.service.GetEntity(ctx, member, "urn:mg:team:core")
	require.NoError(t, err)
	assert.Empty(t, team.Incoming, "edges from hidden users must not leak")
}

func TestListEntitiesPaginates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, hiddenUsersRules)
	h.servers(t, 12)

	for _, user := range []access.User{member, admin} {
		first, err := h.service.ListEntities(ctx, user, domain.EntityQuery{TypeURN: "server", Limit: 5})
		require.NoError(t, err)
		assert.Len(t, first.Data, 5)
		assert.EqualValues(t, 12, first.Total)

		last, err := h.service.ListEntities(ctx, user, domain.EntityQuery{TypeURN: "server", Limit: 5, Offset: 10})
		require.NoError(t, err)
		assert.Len(t, last.Data, 2)
		assert.Equal(t, "urn:mg:server:s1", first.Data[0].URN)
	}

	clamped, err := h.service.ListEntities(ctx, admin, domain.EntityQuery{Limit: 500})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(clamped.Data), domain.MaxEntityPageSize)
}

func TestGraphContextPrunesHiddenNodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, hiddenUsersRules)
	s := h.servers(t, 4)
	h.link(t, "owns", "urn:mg:team:core", s[0])
	h.link(t, "depends_on", s[0], s[1])
	h.link(t, "depends_on", s[1], s[2])
	h.link(t, "depends_on", s[2], s[3])

	g, err := h.service.GraphContext(ctx, admin, "urn:mg:team:core", GraphQuery{View: graph.ViewNeighborhood, Depth: -1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"urn:mg:team:core", s[0], "urn:mg:user:alice"}, nodeURNs(g))

	g, err = h.service.GraphContext(ctx, member, "urn:mg:team:core", GraphQuery{View: graph.ViewNeighborhood, Depth: -1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"urn:mg:team:core", s[0]}, nodeURNs(g))
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "owns", g.Edges[0].DefinitionCode)

	g, err = h.service.GraphContext(ctx, member, s[0], GraphQuery{View: "dependencies", Depth: -1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s[0], s[1], s[2]}, nodeURNs(g))
	assert.Len(t, g.Edges, 2)

	auditor := access.User{ID: "urn:mg:user:carol", Roles: []string{"AUDITOR"}}
	g, err = h.service.GraphContext(ctx, auditor, s[0], GraphQuery{View: graph.ViewExtended, Depth: -1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s[0], "urn:mg:team:core"}, nodeURNs(g))
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "owns", g.Edges[0].DefinitionCode)

	g, err = h.service.GraphContext(ctx, auditor, s[1], GraphQuery{View: graph.ViewExtended, Depth: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{s[1]}, nodeURNs(g))
	assert.Empty(t, g.Edges)

	_, err = h.service.GraphContext(ctx, member, "urn:mg:team:core", GraphQuery{View: "dependencies", Depth: -1, TypeURN: "server"})
	assert.True(t, domain.IsSecurityViolation(err), "view rooted at another type: %v", err)

	_, err = h.service.GraphContext(ctx, member, "urn:mg:user:alice", GraphQuery{Depth: -1})
	assert.True(t, domain.IsNotFound(err), "hidden root: %v", err)
}

const hiddenServerRules = `
version: "test-3"
rules:
  - scope: ENTITY
    targetPattern: "urn:mg:server:s2"
    roleCondition: "!REGISTRY_ADMIN"
    effect: EXCLUDE
`

func TestGraphContextDoesNotTraverseHiddenEntities(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, hiddenServerRules)
	s := h.servers(t, 3)
	h.link(t, "depends_on", s[0], s[1])
	h.link(t, "depends_on", s[1], s[2])

	g, err := h.service.GraphContext(ctx, member, s[0], GraphQuery{View: graph.ViewExtended, Depth: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{s[0]}, nodeURNs(g))
	assert.Empty(t, g.Edges)

	g, err = h.service.GraphContext(ctx, member, s[0], GraphQuery{View: "dependencies", Depth: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{s[0]}, nodeURNs(g))
	assert.Empty(t, g.Edges)

	g, err = h.service.GraphContext(ctx, admin, s[0], GraphQuery{View: graph.ViewExtended, Depth: -1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s[0], s[1], s[2]}, nodeURNs(g))
	assert.Len(t, g.Edges, 2)
}

func nodeURNs(g domain.Graph) []string {
	out := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n.URN)
	}
	return out
}

func TestGovernanceReadModels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, secretRules)

	snap := h.service.Snapshot()
	assert.Equal(t, "test-1", snap.Version)
	assert.Len(t, snap.Checksum, 16)
	assert.Equal(t, 1, snap.Count)

	pm, err := h.service.ProjectionMap(ctx, "user", domain.DefaultRole)
	require.NoError(t, err)
	require.Len(t, pm.Types, 1)
	assert.Equal(t, []string{"secret_key"}, pm.Types[0].HiddenAttributes)
	assert.Equal(t, []string{"email"}, pm.Types[0].VisibleAttributes)
	assert.Equal(t, []string{"primary_team"}, pm.Types[0].VisibleRelationships)

	all, err := h.service.ProjectionMap(ctx, "", domain.AdminRole)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all.Types), 3)
	for _, tp := range all.Types {
		assert.Empty(t, tp.HiddenAttributes, tp.EntityTypeURN)
	}
}
