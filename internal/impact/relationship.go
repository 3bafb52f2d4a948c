package impact

import (
	"fmt"
	"reflect"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

type edgeRequest struct {
	definitionURN string
	fromURN       string
	toURN         string
	excludeID     string
}

func (in *inspection) relationshipCreate(change domain.Change) error {
	req := edgeRequest{
		definitionURN: payloadString(change.Payload, "definition_urn"),
		fromURN:       payloadString(change.Payload, "from_urn"),
		toURN:         payloadString(change.Payload, "to_urn"),
	}
	if req.fromURN == "" {
		req.fromURN = change.TargetURN
	}
	if req.definitionURN == "" || req.toURN == "" {
		return domain.Validationf("definition_urn, from_urn and to_urn are required")
	}
	return in.checkEdge(req)
}

// checkEdge classifies a prospective edge: integrity, lifecycle, duplicates,
// cardinality and cycles.
func (in *inspection) checkEdge(req edgeRequest) error {
	in.touch(req.definitionURN)
	def, defEntity, err := schema.ResolveDefinition(in.ctx, in.store, req.definitionURN)
	if err != nil {
		if !domain.IsNotFound(err) && !domain.IsValidation(err) {
			return err
		}
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, req.definitionURN, "relationship definition %s is unusable: %v", req.definitionURN, err)
		return nil
	}

	from, fromOK, err := in.entity(req.fromURN)
	if err != nil {
		return err
	}
	to, toOK, err := in.entity(req.toURN)
	if err != nil {
		return err
	}
	if !fromOK {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, req.fromURN, "source entity %s does not exist", req.fromURN)
	}
	if !toOK {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, req.toURN, "target entity %s does not exist", req.toURN)
	}
	if !fromOK || !toOK {
		return nil
	}

	if def.FromTypeURN != "" && from.EntityTypeURN != def.FromTypeURN {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, from.URN, "%s expects a %s source, got %s", def.Code, def.FromTypeURN, from.EntityTypeURN)
	}
	if def.ToTypeURN != "" && to.EntityTypeURN != def.ToTypeURN {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, to.URN, "%s expects a %s target, got %s", def.Code, def.ToTypeURN, to.EntityTypeURN)
	}

	for _, e := range []domain.Entity{defEntity, from, to} {
		if e.FSMState == domain.StateArchived {
			in.add(domain.CodeLifecycleBreak, domain.LevelBlocking, e.URN, "%s is archived", e.URN)
		}
	}

	dup, err := in.store.CountRelationships(in.ctx, domain.RelationshipFilter{
		DefinitionURN: req.definitionURN, FromURN: req.fromURN, ToURN: req.toURN, ExcludeID: req.excludeID,
	})
	if err != nil {
		return fmt.Errorf("count relationships: %w", err)
	}
	if dup > 0 {
		in.add(domain.CodeDuplicateRelationship, domain.LevelBlocking, req.fromURN, "%s -[%s]-> %s already exists", req.fromURN, def.Code, req.toURN)
	}

	if limit := def.Cardinality.MaxOutbound(); limit > 0 {
		n, err := in.store.CountRelationships(in.ctx, domain.RelationshipFilter{DefinitionURN: req.definitionURN, FromURN: req.fromURN, ExcludeID: req.excludeID})
		if err != nil {
			return fmt.Errorf("count outbound relationships: %w", err)
		}
		if n >= int64(limit) {
			in.add(domain.CodeCardinalityViolation, domain.LevelBlocking, req.fromURN, "%s already has %d outbound %s relationship(s); %s allows %d", req.fromURN, n, def.Code, def.Cardinality, limit)
		}
	}
	if limit := def.Cardinality.MaxInbound(); limit > 0 {
		n, err := in.store.CountRelationships(in.ctx, domain.RelationshipFilter{DefinitionURN: req.definitionURN, ToURN: req.toURN, ExcludeID: req.excludeID})
		if err != nil {
			return fmt.Errorf("count inbound relationships: %w", err)
		}
		if n >= int64(limit) {
			in.add(domain.CodeCardinalityViolation, domain.LevelBlocking, req.toURN, "%s already has %d inbound %s relationship(s); %s allows %d", req.toURN, n, def.Code, def.Cardinality, limit)
		}
	}

	if def.Acyclic {
		if req.fromURN == req.toURN {
			in.addPath(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, req.fromURN, []string{req.fromURN, req.toURN}, "%s is acyclic; self-loops are not allowed", def.Code)
			return nil
		}
		path, err := in.reachable(req.toURN, req.fromURN, req.definitionURN, req.excludeID)
		if err != nil {
			return err
		}
		if path != nil {
			in.addPath(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, req.fromURN, append([]string{req.fromURN}, path...), "%s is acyclic; %s already reaches %s", def.Code, req.toURN, req.fromURN)
		}
	}
	return nil
}

// reachable searches outgoing edges of one definition from start and returns
// the path to goal, or nil.
func (in *inspection) reachable(start, goal, definitionURN, excludeID string) ([]string, error) {
	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == goal {
			var path []string
			for at := goal; at != ""; at = parent[at] {
				path = append([]string{at}, path...)
			}
			return path, nil
		}
		outgoing, err := in.store.OutgoingRelationships(in.ctx, current)
		if err != nil {
			return nil, fmt.Errorf("outgoing relationships of %s: %w", current, err)
		}
		for _, rel := range outgoing {
			if rel.DefinitionURN != definitionURN || rel.ID == excludeID {
				continue
			}
			if _, seen := parent[rel.ToURN]; seen {
				continue
			}
			in.touch(rel.ToURN)
			parent[rel.ToURN] = current
			queue = append(queue, rel.ToURN)
		}
	}
	return nil, nil
}

func (in *inspection) relationshipDelete(id string) error {
	rel, err := in.store.GetRelationship(in.ctx, id)
	if err != nil {
		if !domain.IsNotFound(err) {
			return err
		}
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, id, "relationship %s does not exist", id)
		return nil
	}
	return in.checkDetach(rel)
}

// checkDetach classifies removing rel from its source entity.
func (in *inspection) checkDetach(rel domain.RelationshipSummary) error {
	in.touch(rel.FromURN, rel.ToURN, rel.DefinitionURN)
	from, ok, err := in.entity(rel.FromURN)
	if err != nil || !ok {
		return err
	}

	remaining, err := in.store.CountRelationships(in.ctx, domain.RelationshipFilter{
		DefinitionURN: rel.DefinitionURN, FromURN: rel.FromURN, ExcludeID: rel.ID,
	})
	if err != nil {
		return fmt.Errorf("count relationships: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	typeSchema, err := schema.ResolveOrEmpty(in.ctx, in.store, from.EntityTypeURN)
	if err != nil {
		if !domain.IsValidation(err) {
			return err
		}
		typeSchema = schema.Schema{EntityTypeURN: from.EntityTypeURN}
	}
	for _, rd := range typeSchema.Relationships {
		if rd.IsRequired && (rd.Code == rel.DefinitionCode || (rd.DefinitionURN != "" && rd.DefinitionURN == rel.DefinitionURN)) {
			in.addPath(domain.CodeOrphanRelationship, domain.LevelWarning, from.URN, []string{from.URN, rel.ToURN},
				"%s would have no %s relationship, which its type requires", from.URN, rel.DefinitionCode)
			break
		}
	}

	fsm, err := schema.ResolveFSM(in.ctx, in.store, typeSchema.LifecycleFSMURN)
	if err != nil {
		if !domain.IsValidation(err) && !domain.IsNotFound(err) {
			return err
		}
		return nil
	}
	if state, ok := fsm.State(from.FSMState); ok {
		for _, code := range state.RequiresRelationships {
			if code == rel.DefinitionCode {
				in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, from.URN, "state %q of %s requires a %s relationship", from.FSMState, from.URN, code)
			}
		}
	}
	return nil
}

// relationshipUpdate treats an endpoint move as detach plus attach; the edge
// itself is excluded from the duplicate and cardinality counts.
func (in *inspection) relationshipUpdate(change domain.Change) error {
	rel, err := in.store.GetRelationship(in.ctx, change.TargetURN)
	if err != nil {
		if !domain.IsNotFound(err) {
			return err
		}
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, change.TargetURN, "relationship %s does not exist", change.TargetURN)
		return nil
	}
	in.touch(rel.FromURN, rel.ToURN)

	fromURN := payloadString(change.Payload, "from_urn")
	toURN := payloadString(change.Payload, "to_urn")
	if fromURN == "" {
		fromURN = rel.FromURN
	}
	if toURN == "" {
		toURN = rel.ToURN
	}

	if fromURN != rel.FromURN || toURN != rel.ToURN {
		if fromURN != rel.FromURN {
			if err := in.checkDetach(rel); err != nil {
				return err
			}
		}
		return in.checkEdge(edgeRequest{
			definitionURN: rel.DefinitionURN,
			fromURN:       fromURN,
			toURN:         toURN,
			excludeID:     rel.ID,
		})
	}

	if attrs, ok := payloadMap(change.Payload, "attributes"); ok && !reflect.DeepEqual(attrs, rel.Attributes) {
		in.add(domain.CodeMetadataUpdate, domain.LevelInfo, rel.FromURN, "relationship %s attributes changed: %v", rel.ID, changedKeys(rel.Attributes, attrs))
	}
	return nil
}
