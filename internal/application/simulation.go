package application

import (
	"context"
	"sort"
	"strings"

	"github.com/atvirokodosprendimai/registry/internal/access"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/rules"
)

type SimulationRequest struct {
	EntityType string                 `json:"entity_type"`
	Role       string                 `json:"role"`
	Overlay    []rules.VisibilityRule `json:"overlay"`
}

type SimulationDiff struct {
	EntityTypeURN              string   `json:"entity_type_urn"`
	Role                       string   `json:"role"`
	NewlyHiddenAttributes      []string `json:"newly_hidden_attributes"`
	NewlyRevealedAttributes    []string `json:"newly_revealed_attributes"`
	NewlyHiddenRelationships   []string `json:"newly_hidden_relationships"`
	NewlyRevealedRelationships []string `json:"newly_revealed_relationships"`
}

// simulationUser stands in for a member of role. The role string may carry
// several comma separated roles.
func simulationUser(role string) access.User {
	return access.User{ID: "simulation", Roles: access.ParseRoles(role, domain.DefaultRole)}
}

// Simulate compares the schema projection of an entity type for a role under
// the active rules and under the active rules plus overlay. The active rule set
// is never changed.
func (s *RegistryService) Simulate(ctx context.Context, req SimulationRequest) (SimulationDiff, error) {
	if strings.TrimSpace(req.EntityType) == "" {
		return SimulationDiff{}, domain.Validationf("entity_type is required")
	}
	baseline := rules.Empty()
	if s.rules != nil {
		baseline = s.rules.Current()
	}
	overlaid, err := baseline.WithOverlay(req.Overlay)
	if err != nil {
		return SimulationDiff{}, domain.NewError(domain.ErrValidation, "invalid overlay").WithReport(err).WithCause(err)
	}

	raw, err := s.schemas.RawSchema(ctx, req.EntityType)
	if err != nil {
		return SimulationDiff{}, err
	}
	user := simulationUser(req.Role)
	before := access.NewEngine(baseline)
	after := access.NewEngine(overlaid)

	hiddenBefore := before.HiddenAttributes(user, raw)
	hiddenAfter := after.HiddenAttributes(user, raw)
	relsBefore := before.HiddenRelationships(user, raw)
	relsAfter := after.HiddenRelationships(user, raw)

	s.logger.Debug("simulation evaluated", "entity_type", raw.EntityTypeURN, "role", req.Role, "overlay", len(req.Overlay))
	return SimulationDiff{
		EntityTypeURN:              raw.EntityTypeURN,
		Role:                       strings.Join(user.Roles, ","),
		NewlyHiddenAttributes:      difference(hiddenAfter, hiddenBefore),
		NewlyRevealedAttributes:    difference(hiddenBefore, hiddenAfter),
		NewlyHiddenRelationships:   difference(relsAfter, relsBefore),
		NewlyRevealedRelationships: difference(relsBefore, relsAfter),
	}, nil
}

// difference returns the sorted members of a that are not in b.
func difference(a, b []string) []string {
	skip := make(map[string]struct{}, len(b))
	for _, item := range b {
		skip[item] = struct{}{}
	}
	out := []string{}
	for _, item := range a {
		if _, ok := skip[item]; !ok {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
