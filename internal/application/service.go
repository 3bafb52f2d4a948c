package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/registry/internal/access"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/graph"
	"github.com/atvirokodosprendimai/registry/internal/rules"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

// RegistryService serves the read side. Every call takes one snapshot of the
// active rule set and filters its results through it.
type RegistryService struct {
	repo    domain.Repository
	rules   *rules.Holder
	schemas *SchemaService
	graph   *graph.Engine
	logger  *slog.Logger
}

type EntityView struct {
	Entity   domain.Entity                `json:"entity"`
	Outgoing []domain.RelationshipSummary `json:"outgoing"`
	Incoming []domain.RelationshipSummary `json:"incoming"`
}

// GraphQuery selects a traversal. View is neighborhood, extended or the name of
// a schema view. Depth below zero means unset.
type GraphQuery struct {
	View    string
	Depth   int
	TypeURN string
}

func NewRegistryService(repo domain.Repository, holder *rules.Holder, schemas *SchemaService, logger *slog.Logger) *RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryService{
		repo:    repo,
		rules:   holder,
		schemas: schemas,
		graph:   graph.NewEngine(repo),
		logger:  logger.With("component", "registry"),
	}
}

func (s *RegistryService) access() *access.Engine {
	if s.rules == nil {
		return nil
	}
	return access.NewEngine(s.rules.Current())
}

// GetSchema returns the projection of typeURN as the user may see it.
func (s *RegistryService) GetSchema(ctx context.Context, user access.User, typeURN string) (schema.Schema, error) {
	if strings.TrimSpace(typeURN) == "" {
		return schema.Schema{}, domain.Validationf("entity type is required")
	}
	raw, err := s.schemas.RawSchema(ctx, typeURN)
	if err != nil {
		return schema.Schema{}, err
	}
	return s.access().PruneSchema(user, raw), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return domain.DefaultEntityPageSize
	}
	if limit > domain.MaxEntityPageSize {
		return domain.MaxEntityPageSize
	}
	return limit
}

// ListEntities pages through entities. When ENTITY rules apply to the user the
// page and total are computed after filtering.
func (s *RegistryService) ListEntities(ctx context.Context, user access.User, query domain.EntityQuery) (domain.EntityPage, error) {
	query.TypeURN = schema.ResolveTypeURN(query.TypeURN)
	query.Search = strings.TrimSpace(query.Search)
	query.Limit = clampLimit(query.Limit)
	if query.Offset < 0 {
		query.Offset = 0
	}
	engine := s.access()

	if engine.HasEntityRestrictions(user) {
		all, err := s.repo.ListEntities(ctx, domain.EntityQuery{TypeURN: query.TypeURN, Search: query.Search})
		if err != nil {
			return domain.EntityPage{}, err
		}
		visible := make([]domain.Entity, 0, len(all))
		for _, e := range all {
			if engine.CanViewEntity(user, e.URN, e.EntityTypeURN) {
				visible = append(visible, e)
			}
		}
		start := min(query.Offset, len(visible))
		end := min(start+query.Limit, len(visible))
		return domain.EntityPage{Data: s.pruneEntities(engine, user, visible[start:end]), Total: int64(len(visible))}, nil
	}

	var (
		items []domain.Entity
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.ListEntities(gctx, query)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountEntities(gctx, query)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.EntityPage{}, err
	}
	return domain.EntityPage{Data: s.pruneEntities(engine, user, items), Total: total}, nil
}

func (s *RegistryService) pruneEntities(engine *access.Engine, user access.User, items []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, 0, len(items))
	for _, e := range items {
		e.Attributes = engine.PruneEntityData(user, e.Attributes)
		out = append(out, e)
	}
	return out
}

// visibleEntity loads urn and reports a hidden entity as missing.
func (s *RegistryService) visibleEntity(ctx context.Context, engine *access.Engine, user access.User, urn string) (domain.Entity, error) {
	if strings.TrimSpace(urn) == "" {
		return domain.Entity{}, domain.Validationf("urn is required")
	}
	e, err := s.repo.GetEntity(ctx, urn)
	if err != nil {
		return domain.Entity{}, err
	}
	if !engine.CanViewEntity(user, e.URN, e.EntityTypeURN) {
		return domain.Entity{}, domain.NotFound("entity " + urn)
	}
	return e, nil
}

func (s *RegistryService) GetEntity(ctx context.Context, user access.User, urn string) (EntityView, error) {
	engine := s.access()
	e, err := s.visibleEntity(ctx, engine, user, urn)
	if err != nil {
		return EntityView{}, err
	}

	var outgoing, incoming []domain.RelationshipSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		outgoing, err = s.repo.OutgoingRelationships(gctx, e.URN)
		return err
	})
	g.Go(func() error {
		var err error
		incoming, err = s.repo.IncomingRelationships(gctx, e.URN)
		return err
	})
	if err := g.Wait(); err != nil {
		return EntityView{}, err
	}

	e.Attributes = engine.PruneEntityData(user, e.Attributes)
	return EntityView{
		Entity:   e,
		Outgoing: s.filterRelationships(engine, user, outgoing),
		Incoming: s.filterRelationships(engine, user, incoming),
	}, nil
}

// filterRelationships drops edges whose code or either endpoint is hidden.
func (s *RegistryService) filterRelationships(engine *access.Engine, user access.User, rels []domain.RelationshipSummary) []domain.RelationshipSummary {
	out := make([]domain.RelationshipSummary, 0, len(rels))
	for _, rel := range rels {
		if !engine.CanViewRelationship(user, rel.DefinitionCode) {
			continue
		}
		if !engine.CanViewEntity(user, rel.FromURN, rel.FromTypeURN) || !engine.CanViewEntity(user, rel.ToURN, rel.ToTypeURN) {
			continue
		}
		rel.Attributes = engine.PruneEntityData(user, rel.Attributes)
		out = append(out, rel)
	}
	return out
}

func (s *RegistryService) ListRelationships(ctx context.Context, user access.User, filter domain.RelationshipFilter) ([]domain.RelationshipSummary, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	rels, err := s.repo.ListRelationships(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.filterRelationships(s.access(), user, rels), nil
}

// GraphContext returns the subgraph around urn, pruned for the user.
func (s *RegistryService) GraphContext(ctx context.Context, user access.User, urn string, query GraphQuery) (domain.Graph, error) {
	engine := s.access()
	root, err := s.visibleEntity(ctx, engine, user, urn)
	if err != nil {
		return domain.Graph{}, err
	}

	view := defaultString(strings.TrimSpace(query.View), graph.ViewNeighborhood)
	visible := graph.Filter{
		Node: func(e domain.Entity) bool { return engine.CanViewEntity(user, e.URN, e.EntityTypeURN) },
		Edge: func(rel domain.RelationshipSummary) bool { return engine.CanViewRelationship(user, rel.DefinitionCode) },
	}
	var g domain.Graph
	switch view {
	case graph.ViewNeighborhood, graph.ViewExtended:
		g, err = s.graph.Neighborhood(ctx, root.URN, view, graph.DepthFor(view, query.Depth), visible)
	default:
		typeURN := defaultString(schema.ResolveTypeURN(query.TypeURN), root.EntityTypeURN)
		if !engine.CanUseView(user, view) {
			return domain.Graph{}, domain.SecurityViolationf("view %q is not available", view)
		}
		typeSchema, serr := s.GetSchema(ctx, user, typeURN)
		if serr != nil {
			return domain.Graph{}, serr
		}
		v, ok := typeSchema.View(view)
		if !ok {
			return domain.Graph{}, domain.NotFound(fmt.Sprintf("view %q on %s", view, typeURN))
		}
		if root.EntityTypeURN != typeURN {
			return domain.Graph{}, domain.SecurityViolationf("%s is not an entity of %s", root.URN, typeURN)
		}
		g, err = s.graph.TraverseView(ctx, typeURN, root.URN, v, visible)
	}
	if err != nil {
		return domain.Graph{}, err
	}
	for i := range g.Nodes {
		g.Nodes[i].Attributes = engine.PruneEntityData(user, g.Nodes[i].Attributes)
	}
	return g, nil
}

// ListAuditEvents returns the latest events of a visible entity with hidden
// attribute values stripped from their payloads.
func (s *RegistryService) ListAuditEvents(ctx context.Context, user access.User, urn string, limit int) ([]domain.AuditEvent, error) {
	engine := s.access()
	if _, err := s.visibleEntity(ctx, engine, user, urn); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > domain.DefaultAuditEventsLimit {
		limit = domain.DefaultAuditEventsLimit
	}
	events, err := s.repo.ListAuditEvents(ctx, urn, limit)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Payload = prunePayload(engine, user, events[i].Payload)
	}
	return events, nil
}

func prunePayload(engine *access.Engine, user access.User, payload string) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return payload
	}
	attrs, ok := doc["attributes"].(map[string]any)
	if !ok {
		return payload
	}
	doc["attributes"] = engine.PruneEntityData(user, attrs)
	data, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return string(data)
}
