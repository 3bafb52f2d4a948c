package application

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/registry/internal/access"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/rules"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

type RuleSnapshot struct {
	Version  string                 `json:"version"`
	Checksum string                 `json:"checksum"`
	LoadedAt time.Time              `json:"loaded_at"`
	Count    int                    `json:"count"`
	Rules    []rules.VisibilityRule `json:"rules"`
}

type TypeProjection struct {
	EntityTypeURN        string   `json:"entity_type_urn"`
	VisibleAttributes    []string `json:"visible_attributes"`
	HiddenAttributes     []string `json:"hidden_attributes"`
	VisibleRelationships []string `json:"visible_relationships"`
	HiddenRelationships  []string `json:"hidden_relationships"`
	VisibleViews         []string `json:"visible_views"`
}

type ProjectionMap struct {
	Role  string           `json:"role"`
	Types []TypeProjection `json:"types"`
}

// Snapshot describes the active rule set.
func (s *RegistryService) Snapshot() RuleSnapshot {
	rs := rules.Empty()
	if s.rules != nil {
		rs = s.rules.Current()
	}
	return RuleSnapshot{
		Version:  rs.Version(),
		Checksum: rs.Checksum(),
		LoadedAt: rs.LoadedAt(),
		Count:    rs.Len(),
		Rules:    rs.Rules(),
	}
}

// ProjectionMap shows what role sees of entityType, or of every entity type
// when entityType is empty.
func (s *RegistryService) ProjectionMap(ctx context.Context, entityType, role string) (ProjectionMap, error) {
	user := simulationUser(role)
	engine := s.access()
	out := ProjectionMap{Role: strings.Join(user.Roles, ","), Types: []TypeProjection{}}

	var typeURNs []string
	if strings.TrimSpace(entityType) != "" {
		typeURNs = []string{schema.ResolveTypeURN(entityType)}
	} else {
		types, err := s.repo.ListEntitiesByType(ctx, domain.EntityTypeMetaURN)
		if err != nil {
			return ProjectionMap{}, err
		}
		for _, t := range types {
			typeURNs = append(typeURNs, t.URN)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, typeURN := range typeURNs {
		g.Go(func() error {
			raw, err := s.schemas.RawSchema(gctx, typeURN)
			if err != nil {
				if domain.IsValidation(err) && entityType == "" {
					s.logger.Warn("skipping entity type that cannot be projected", "entity_type", typeURN, "error", err)
					return nil
				}
				return err
			}
			projection := project(engine, user, raw)
			mu.Lock()
			out.Types = append(out.Types, projection)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ProjectionMap{}, err
	}
	sort.Slice(out.Types, func(i, j int) bool { return out.Types[i].EntityTypeURN < out.Types[j].EntityTypeURN })
	return out, nil
}

func project(engine *access.Engine, user access.User, raw schema.Schema) TypeProjection {
	pruned := engine.PruneSchema(user, raw)
	p := TypeProjection{
		EntityTypeURN:        raw.EntityTypeURN,
		VisibleAttributes:    []string{},
		HiddenAttributes:     engine.HiddenAttributes(user, raw),
		VisibleRelationships: []string{},
		HiddenRelationships:  engine.HiddenRelationships(user, raw),
		VisibleViews:         pruned.ViewNames(),
	}
	for _, a := range pruned.Attributes {
		p.VisibleAttributes = append(p.VisibleAttributes, a.Code)
	}
	for _, r := range pruned.Relationships {
		p.VisibleRelationships = append(p.VisibleRelationships, r.Code)
	}
	if p.HiddenAttributes == nil {
		p.HiddenAttributes = []string{}
	}
	if p.HiddenRelationships == nil {
		p.HiddenRelationships = []string{}
	}
	sort.Strings(p.VisibleAttributes)
	sort.Strings(p.VisibleRelationships)
	return p
}
