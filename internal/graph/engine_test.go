package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

type memorySource struct {
	entities map[string]domain.Entity
	edges    []domain.RelationshipSummary
}

func newMemorySource() *memorySource {
	return &memorySource{entities: map[string]domain.Entity{}}
}

func (m *memorySource) add(urn, typeURN string) {
	m.entities[urn] = domain.Entity{URN: urn, EntityTypeURN: typeURN, FSMState: domain.StateActive, Attributes: map[string]any{"name": urn}}
}

func (m *memorySource) link(id, code, from, to string) {
	m.edges = append(m.edges, domain.RelationshipSummary{
		Relationship:   domain.Relationship{ID: id, DefinitionURN: "urn:mg:rel:" + code, FromURN: from, ToURN: to},
		DefinitionCode: code,
		FromTypeURN:    m.entities[from].EntityTypeURN,
		ToTypeURN:      m.entities[to].EntityTypeURN,
	})
}

func (m *memorySource) GetEntity(_ context.Context, urn string) (domain.Entity, error) {
	e, ok := m.entities[urn]
	if !ok {
		return domain.Entity{}, domain.NotFound(urn)
	}
	return e, nil
}

func (m *memorySource) OutgoingRelationships(_ context.Context, urn string) ([]domain.RelationshipSummary, error) {
	var out []domain.RelationshipSummary
	for _, e := range m.edges {
		if e.FromURN == urn {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memorySource) IncomingRelationships(_ context.Context, urn string) ([]domain.RelationshipSummary, error) {
	var out []domain.RelationshipSummary
	for _, e := range m.edges {
		if e.ToURN == urn {
			out = append(out, e)
		}
	}
	return out, nil
}

const (
	userType   = "urn:mg:type:user"
	teamType   = "urn:mg:type:team"
	serverType = "urn:mg:type:server"
)

func ownershipFixture() *memorySource {
	src := newMemorySource()
	src.add("urn:u:1", userType)
	src.add("urn:t:1", teamType)
	src.add("urn:s:1", serverType)
	src.add("urn:s:2", serverType)
	src.link("e1", "member_of", "urn:u:1", "urn:t:1")
	src.link("e2", "owns", "urn:t:1", "urn:s:1")
	src.link("e3", "hosts", "urn:s:1", "urn:s:2")
	return src
}

func nodeURNs(g domain.Graph) []string {
	out := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n.URN)
	}
	return out
}

func TestTraverseViewFollowsAllowedEdges(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	view := schema.View{
		Name:  "ownership",
		Type:  "graph",
		Root:  userType,
		Nodes: []string{teamType, serverType},
		Edges: []string{"member_of", "owns"},
		Depth: 2,
	}

	g, err := engine.TraverseView(context.Background(), userType, "urn:u:1", view, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:u:1", "urn:t:1", "urn:s:1"}, nodeURNs(g))
	require.Len(t, g.Edges, 2)
	assert.Equal(t, "member_of", g.Edges[0].DefinitionCode)
	assert.Equal(t, "owns", g.Edges[1].DefinitionCode)
	assert.Equal(t, 2, g.Nodes[2].Depth)
}

func TestTraverseViewRejectsForeignRoot(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	_, err := engine.TraverseView(context.Background(), userType, "urn:u:1", schema.View{Name: "servers", Root: serverType, Depth: 1}, Filter{})
	require.Error(t, err)
	assert.True(t, domain.IsSecurityViolation(err))
}

func TestTraverseViewSkipsDisallowedNodeTypes(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	view := schema.View{Name: "teams", Root: userType, Nodes: []string{serverType}, Edges: []string{"member_of"}, Depth: 3}
	g, err := engine.TraverseView(context.Background(), userType, "urn:u:1", view, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:u:1"}, nodeURNs(g))
	assert.Empty(t, g.Edges)
}

func TestDepthZeroReturnsOnlyRoot(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	g, err := engine.Neighborhood(context.Background(), "urn:t:1", ViewNeighborhood, 0, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:t:1"}, nodeURNs(g))
	assert.Empty(t, g.Edges)
}

func TestNeighborhoodFollowsBothDirections(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	g, err := engine.Neighborhood(context.Background(), "urn:t:1", ViewNeighborhood, 1, Filter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"urn:t:1", "urn:s:1", "urn:u:1"}, nodeURNs(g))
	assert.Len(t, g.Edges, 2)
}

func TestCycleTerminates(t *testing.T) {
	src := newMemorySource()
	src.add("urn:a", userType)
	src.add("urn:b", userType)
	src.link("ab", "knows", "urn:a", "urn:b")
	src.link("ba", "knows", "urn:b", "urn:a")

	engine := NewEngine(src)
	g, err := engine.Neighborhood(context.Background(), "urn:a", ViewExtended, MaxDepth, Filter{})
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 2)

	view := schema.View{Name: "knows", Root: userType, Nodes: []string{userType}, Edges: []string{"knows"}, Depth: 4}
	g, err = engine.TraverseView(context.Background(), userType, "urn:a", view, Filter{})
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 2)
}

func TestMissingRootIsNotFound(t *testing.T) {
	engine := NewEngine(newMemorySource())
	_, err := engine.Neighborhood(context.Background(), "urn:missing", ViewNeighborhood, 1, Filter{})
	assert.True(t, domain.IsNotFound(err))
}

func TestDepthFor(t *testing.T) {
	assert.Equal(t, 1, DepthFor(ViewNeighborhood, -1))
	assert.Equal(t, 2, DepthFor(ViewExtended, -1))
	assert.Equal(t, 0, DepthFor(ViewExtended, 0))
	assert.Equal(t, MaxDepth, DepthFor(ViewNeighborhood, 40))
}

func TestNeighborhoodTerminatesWithinDepth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "nodes")
		src := newMemorySource()
		for i := 0; i < n; i++ {
			src.add(fmt.Sprintf("urn:n:%d", i), userType)
		}
		edgeCount := rapid.IntRange(0, 20).Draw(t, "edges")
		for i := 0; i < edgeCount; i++ {
			from := rapid.IntRange(0, n-1).Draw(t, "from")
			to := rapid.IntRange(0, n-1).Draw(t, "to")
			src.link(fmt.Sprintf("e%d", i), "knows", fmt.Sprintf("urn:n:%d", from), fmt.Sprintf("urn:n:%d", to))
		}
		depth := rapid.IntRange(0, MaxDepth).Draw(t, "depth")

		g, err := NewEngine(src).Neighborhood(context.Background(), "urn:n:0", ViewNeighborhood, depth, Filter{})
		if err != nil {
			t.Fatalf("neighborhood: %v", err)
		}
		if len(g.Nodes) > n {
			t.Fatalf("visited %d nodes out of %d", len(g.Nodes), n)
		}
		seen := map[string]struct{}{}
		for _, node := range g.Nodes {
			if node.Depth > depth {
				t.Fatalf("node %s at depth %d beyond %d", node.URN, node.Depth, depth)
			}
			if _, dup := seen[node.URN]; dup {
				t.Fatalf("node %s visited twice", node.URN)
			}
			seen[node.URN] = struct{}{}
		}
		if depth == 0 && (len(g.Nodes) != 1 || len(g.Edges) != 0) {
			t.Fatalf("depth 0 returned %d nodes and %d edges", len(g.Nodes), len(g.Edges))
		}
	})
}

func TestFilterStopsExpansionThroughHiddenNodes(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	hideTeam := Filter{Node: func(e domain.Entity) bool { return e.URN != "urn:t:1" }}

	g, err := engine.Neighborhood(context.Background(), "urn:u:1", ViewExtended, MaxDepth, hideTeam)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:u:1"}, nodeURNs(g))
	assert.Empty(t, g.Edges)

	view := schema.View{Name: "ownership", Root: userType, Nodes: []string{teamType, serverType}, Edges: []string{"member_of", "owns", "hosts"}, Depth: 3}
	g, err = engine.TraverseView(context.Background(), userType, "urn:u:1", view, hideTeam)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:u:1"}, nodeURNs(g))
	assert.Empty(t, g.Edges)
}

func TestFilterStopsExpansionThroughHiddenEdges(t *testing.T) {
	engine := NewEngine(ownershipFixture())
	hideOwns := Filter{Edge: func(rel domain.RelationshipSummary) bool { return rel.DefinitionCode != "owns" }}

	g, err := engine.Neighborhood(context.Background(), "urn:u:1", ViewExtended, MaxDepth, hideOwns)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:u:1", "urn:t:1"}, nodeURNs(g))
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "member_of", g.Edges[0].DefinitionCode)

	g, err = engine.Neighborhood(context.Background(), "urn:s:1", ViewNeighborhood, 1, hideOwns)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:s:1", "urn:s:2"}, nodeURNs(g))
}
