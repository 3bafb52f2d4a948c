// Package graph walks the relationship graph breadth-first. It applies view
// constraints and a caller-supplied Filter; hidden nodes and edges are never
// expanded, so nothing is reached through them.
package graph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

const (
	MaxDepth          = 5
	ViewNeighborhood  = "neighborhood"
	ViewExtended      = "extended"
	neighborhoodDepth = 1
	extendedDepth     = 2
)

// Source is the read port the engine traverses. domain.Store satisfies it.
type Source interface {
	GetEntity(ctx context.Context, urn string) (domain.Entity, error)
	OutgoingRelationships(ctx context.Context, urn string) ([]domain.RelationshipSummary, error)
	IncomingRelationships(ctx context.Context, urn string) ([]domain.RelationshipSummary, error)
}

type Engine struct {
	source Source
	tracer trace.Tracer
}

func NewEngine(source Source) *Engine {
	return &Engine{source: source, tracer: otel.Tracer("registry/graph")}
}

// DepthFor resolves the depth of a free-form view. A non-negative explicit depth
// wins and is clamped to MaxDepth; a negative one means unset.
func DepthFor(view string, explicit int) int {
	if explicit >= 0 {
		return min(explicit, MaxDepth)
	}
	if view == ViewExtended {
		return extendedDepth
	}
	return neighborhoodDepth
}

// Filter decides which nodes and edges a walk may enter. A nil field admits
// everything.
type Filter struct {
	Node func(domain.Entity) bool
	Edge func(domain.RelationshipSummary) bool
}

func (f Filter) node(e domain.Entity) bool {
	return f.Node == nil || f.Node(e)
}

func (f Filter) edge(rel domain.RelationshipSummary) bool {
	return f.Edge == nil || f.Edge(rel)
}

type queued struct {
	urn   string
	depth int
}

type walk struct {
	graph   domain.Graph
	visited map[string]struct{}
	edges   map[string]struct{}
}

func newWalk(root domain.Entity, view string, depth int) *walk {
	w := &walk{
		graph: domain.Graph{
			Root:  root.URN,
			View:  view,
			Depth: depth,
			Nodes: []domain.GraphNode{},
			Edges: []domain.GraphEdge{},
		},
		visited: map[string]struct{}{},
		edges:   map[string]struct{}{},
	}
	w.visit(root, 0)
	return w
}

func visitKey(typeURN, urn string) string {
	return typeURN + ":" + urn
}

func (w *walk) seen(typeURN, urn string) bool {
	_, ok := w.visited[visitKey(typeURN, urn)]
	return ok
}

func (w *walk) visit(e domain.Entity, depth int) {
	w.visited[visitKey(e.EntityTypeURN, e.URN)] = struct{}{}
	w.graph.Nodes = append(w.graph.Nodes, domain.GraphNode{
		URN:           e.URN,
		EntityTypeURN: e.EntityTypeURN,
		FSMState:      e.FSMState,
		Attributes:    e.Attributes,
		Depth:         depth,
	})
}

func (w *walk) addEdge(rel domain.RelationshipSummary) {
	if _, ok := w.edges[rel.ID]; ok {
		return
	}
	w.edges[rel.ID] = struct{}{}
	w.graph.Edges = append(w.graph.Edges, domain.GraphEdge{
		ID:             rel.ID,
		DefinitionURN:  rel.DefinitionURN,
		DefinitionCode: rel.DefinitionCode,
		FromURN:        rel.FromURN,
		ToURN:          rel.ToURN,
	})
}

// TraverseView follows outgoing edges allowed by the view from an entity of
// typeURN. A view rooted at a different type is a security violation.
func (e *Engine) TraverseView(ctx context.Context, typeURN, urn string, view schema.View, filter Filter) (domain.Graph, error) {
	if view.Root != typeURN {
		return domain.Graph{}, domain.SecurityViolationf("view %q is rooted at %s, not %s", view.Name, view.Root, typeURN)
	}

	ctx, span := e.tracer.Start(ctx, "graph.traverse", trace.WithAttributes(
		attribute.String("root", urn),
		attribute.String("view", view.Name),
		attribute.Int("depth", view.Depth),
	))
	defer span.End()

	root, err := e.source.GetEntity(ctx, urn)
	if err != nil {
		return domain.Graph{}, err
	}

	edgeCodes := setOf(view.Edges)
	nodeTypes := setOf(view.Nodes)

	w := newWalk(root, view.Name, view.Depth)
	queue := []queued{{urn: root.URN, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= view.Depth {
			continue
		}

		outgoing, err := e.source.OutgoingRelationships(ctx, current.urn)
		if err != nil {
			return domain.Graph{}, fmt.Errorf("outgoing relationships of %s: %w", current.urn, err)
		}
		for _, rel := range outgoing {
			if _, ok := edgeCodes[rel.DefinitionCode]; !ok {
				continue
			}
			if _, ok := nodeTypes[rel.ToTypeURN]; !ok {
				continue
			}
			if !filter.edge(rel) {
				continue
			}
			if !w.seen(rel.ToTypeURN, rel.ToURN) {
				target, err := e.source.GetEntity(ctx, rel.ToURN)
				if err != nil {
					if domain.IsNotFound(err) {
						continue
					}
					return domain.Graph{}, err
				}
				if !filter.node(target) {
					continue
				}
				w.visit(target, current.depth+1)
				queue = append(queue, queued{urn: target.URN, depth: current.depth + 1})
			}
			w.addEdge(rel)
		}
	}

	span.SetAttributes(attribute.Int("nodes", len(w.graph.Nodes)), attribute.Int("edges", len(w.graph.Edges)))
	return w.graph, nil
}

// Neighborhood follows edges in both directions up to depth hops, clamped to
// MaxDepth.
func (e *Engine) Neighborhood(ctx context.Context, urn string, view string, depth int, filter Filter) (domain.Graph, error) {
	depth = max(0, min(depth, MaxDepth))

	ctx, span := e.tracer.Start(ctx, "graph.traverse", trace.WithAttributes(
		attribute.String("root", urn),
		attribute.String("view", view),
		attribute.Int("depth", depth),
	))
	defer span.End()

	root, err := e.source.GetEntity(ctx, urn)
	if err != nil {
		return domain.Graph{}, err
	}

	w := newWalk(root, view, depth)
	queue := []queued{{urn: root.URN, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= depth {
			continue
		}

		outgoing, err := e.source.OutgoingRelationships(ctx, current.urn)
		if err != nil {
			return domain.Graph{}, fmt.Errorf("outgoing relationships of %s: %w", current.urn, err)
		}
		incoming, err := e.source.IncomingRelationships(ctx, current.urn)
		if err != nil {
			return domain.Graph{}, fmt.Errorf("incoming relationships of %s: %w", current.urn, err)
		}

		type hop struct {
			rel     domain.RelationshipSummary
			urn     string
			typeURN string
		}
		hops := make([]hop, 0, len(outgoing)+len(incoming))
		for _, rel := range outgoing {
			hops = append(hops, hop{rel: rel, urn: rel.ToURN, typeURN: rel.ToTypeURN})
		}
		for _, rel := range incoming {
			hops = append(hops, hop{rel: rel, urn: rel.FromURN, typeURN: rel.FromTypeURN})
		}

		for _, h := range hops {
			if !filter.edge(h.rel) {
				continue
			}
			if !w.seen(h.typeURN, h.urn) {
				neighbor, err := e.source.GetEntity(ctx, h.urn)
				if err != nil {
					if domain.IsNotFound(err) {
						continue
					}
					return domain.Graph{}, err
				}
				if !filter.node(neighbor) {
					continue
				}
				w.visit(neighbor, current.depth+1)
				queue = append(queue, queued{urn: neighbor.URN, depth: current.depth + 1})
			}
			w.addEdge(h.rel)
		}
	}

	span.SetAttributes(attribute.Int("nodes", len(w.graph.Nodes)), attribute.Int("edges", len(w.graph.Edges)))
	return w.graph, nil
}

func setOf(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
