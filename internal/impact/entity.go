package impact

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

// NextAttributes computes the attribute document an ENTITY_UPDATE produces.
// Payload: {"attributes": {...}, "merge": bool}.
func NextAttributes(current map[string]any, payload map[string]any) (map[string]any, error) {
	attrs, ok := payloadMap(payload, "attributes")
	if !ok {
		return nil, domain.Validationf("payload.attributes must be an object")
	}
	merge, _ := payload["merge"].(bool)
	next := make(map[string]any, len(current)+len(attrs))
	if merge {
		for k, v := range current {
			next[k] = v
		}
	}
	for k, v := range attrs {
		next[k] = v
	}
	return next, nil
}

func changedKeys(before, after map[string]any) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (in *inspection) entity(urn string) (domain.Entity, bool, error) {
	in.touch(urn)
	e, err := in.store.GetEntity(in.ctx, urn)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Entity{}, false, nil
		}
		return domain.Entity{}, false, err
	}
	return e, true, nil
}

func (in *inspection) entityUpdate(change domain.Change) error {
	current, ok, err := in.entity(change.TargetURN)
	if err != nil {
		return err
	}
	if !ok {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, change.TargetURN, "entity %s does not exist", change.TargetURN)
		return nil
	}

	next, err := NextAttributes(current.Attributes, change.Payload)
	if err != nil {
		return err
	}

	typeSchema, err := schema.ResolveOrEmpty(in.ctx, in.store, current.EntityTypeURN)
	if err != nil {
		if !domain.IsValidation(err) {
			return err
		}
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, current.EntityTypeURN, "entity type cannot be projected: %v", err)
		return nil
	}
	for _, problem := range typeSchema.ValidateAttributes(next, false) {
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, current.URN, "%s", problem)
	}
	if err := in.checkUnique(typeSchema, current.URN, next); err != nil {
		return err
	}

	switch current.EntityTypeURN {
	case domain.EntityTypeMetaURN:
		if _, err := schema.Project(current.URN, next); err != nil {
			in.add(domain.CodeSchemaViolation, domain.LevelBlocking, current.URN, "entity type definition is invalid: %v", err)
		}
	case domain.FSMDefinitionMetaURN:
		if _, err := schema.ProjectFSM(current.URN, next); err != nil {
			in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, current.URN, "lifecycle definition is invalid: %v", err)
		}
	case domain.RelationshipDefMetaURN:
		if err := in.cardinalityChange(current, next); err != nil {
			return err
		}
	}

	if keys := changedKeys(current.Attributes, next); len(keys) > 0 {
		in.add(domain.CodeMetadataUpdate, domain.LevelInfo, current.URN, "attributes changed: %v", keys)
	}
	return nil
}

// checkUnique reports values of is_unique attributes already held by another
// entity of the same type.
func (in *inspection) checkUnique(typeSchema schema.Schema, self string, attrs map[string]any) error {
	var unique []schema.AttributeDescriptor
	for _, attr := range typeSchema.Attributes {
		if attr.IsUnique {
			if v, ok := attrs[attr.Code]; ok && v != nil {
				unique = append(unique, attr)
			}
		}
	}
	if len(unique) == 0 {
		return nil
	}
	peers, err := in.store.ListEntitiesByType(in.ctx, typeSchema.EntityTypeURN)
	if err != nil {
		return fmt.Errorf("list %s: %w", typeSchema.EntityTypeURN, err)
	}
	for _, attr := range unique {
		for _, peer := range peers {
			if peer.URN == self {
				continue
			}
			if reflect.DeepEqual(peer.Attributes[attr.Code], attrs[attr.Code]) {
				in.touch(peer.URN)
				in.add(domain.CodeSchemaViolation, domain.LevelBlocking, self, "attribute %q must be unique; %s already holds %v", attr.Code, peer.URN, attrs[attr.Code])
			}
		}
	}
	return nil
}

func (in *inspection) cardinalityChange(current domain.Entity, next map[string]any) error {
	before, _ := current.Attributes["cardinality"].(string)
	after, _ := next["cardinality"].(string)
	if before == after {
		return nil
	}
	oldCard, err := schema.ParseCardinality(before)
	if err != nil {
		oldCard = schema.ManyToMany
	}
	newCard, err := schema.ParseCardinality(after)
	if err != nil {
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, current.URN, "%v", err)
		return nil
	}
	if !oldCard.Narrows(newCard) {
		return nil
	}

	edges, err := in.store.ListRelationships(in.ctx, domain.RelationshipFilter{DefinitionURN: current.URN})
	if err != nil {
		return fmt.Errorf("list relationships of %s: %w", current.URN, err)
	}
	violations := 0
	if limit := newCard.MaxOutbound(); limit > 0 {
		violations += in.overLimit(edges, limit, func(r domain.RelationshipSummary) string { return r.FromURN }, "outbound", newCard)
	}
	if limit := newCard.MaxInbound(); limit > 0 {
		violations += in.overLimit(edges, limit, func(r domain.RelationshipSummary) string { return r.ToURN }, "inbound", newCard)
	}
	if violations == 0 {
		in.add(domain.CodeMetadataUpdate, domain.LevelInfo, current.URN, "cardinality narrows from %s to %s; existing relationships conform", oldCard, newCard)
	}
	return nil
}

func (in *inspection) overLimit(edges []domain.RelationshipSummary, limit int, side func(domain.RelationshipSummary) string, label string, card schema.Cardinality) int {
	counts := map[string]int{}
	var order []string
	for _, e := range edges {
		key := side(e)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	violations := 0
	for _, urn := range order {
		if counts[urn] > limit {
			in.touch(urn)
			in.add(domain.CodeCardinalityNarrowing, domain.LevelWarning, urn, "%s holds %d %s relationships, %s allows %d", urn, counts[urn], label, card, limit)
			violations++
		}
	}
	return violations
}

// LifecycleTarget resolves the state a lifecycle transition payload
// ({"state": ...} or {"action": ...}) moves entity to, with the governing FSM.
func LifecycleTarget(ctx context.Context, store schema.Getter, e domain.Entity, payload map[string]any) (string, schema.FSM, error) {
	typeSchema, err := schema.ResolveOrEmpty(ctx, store, e.EntityTypeURN)
	if err != nil {
		return "", schema.FSM{}, err
	}
	fsm, err := schema.ResolveFSM(ctx, store, typeSchema.LifecycleFSMURN)
	if err != nil {
		return "", schema.FSM{}, err
	}
	target, err := fsm.Target(e.FSMState, payloadString(payload, "state"), payloadString(payload, "action"))
	if err != nil {
		return "", fsm, domain.Validationf("%v", err)
	}
	return target, fsm, nil
}

func (in *inspection) lifecycleTransition(change domain.Change) error {
	current, ok, err := in.entity(change.TargetURN)
	if err != nil {
		return err
	}
	if !ok {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, change.TargetURN, "entity %s does not exist", change.TargetURN)
		return nil
	}

	target, fsm, err := LifecycleTarget(in.ctx, in.store, current, change.Payload)
	if err != nil {
		if !domain.IsValidation(err) && !domain.IsNotFound(err) {
			return err
		}
		in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, current.URN, "%v", err)
		return nil
	}
	if target == current.FSMState {
		return nil
	}
	state, ok := fsm.State(target)
	if !ok {
		in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, current.URN, "state %q is not defined by %s", target, fsm.URN)
		return nil
	}
	if !fsm.CanTransition(current.FSMState, target) {
		in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, current.URN, "%s does not allow %s -> %s", fsm.URN, current.FSMState, target)
	}

	if target == domain.StateArchived || target == domain.StateDeprecated {
		inbound, err := in.store.IncomingRelationships(in.ctx, current.URN)
		if err != nil {
			return fmt.Errorf("incoming relationships of %s: %w", current.URN, err)
		}
		for _, rel := range inbound {
			in.touch(rel.FromURN)
			in.addPath(domain.CodeLifecycleBreak, domain.LevelBlocking, rel.FromURN, []string{rel.FromURN, current.URN},
				"%s still references %s through %s", rel.FromURN, current.URN, rel.DefinitionCode)
		}
	}

	if len(state.RequiresRelationships) > 0 {
		missing, err := in.missingRelationships(current.URN, state.RequiresRelationships, "")
		if err != nil {
			return err
		}
		for _, code := range missing {
			in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, current.URN, "state %q requires a %q relationship", target, code)
		}
	}
	return nil
}

// missingRelationships returns the codes for which urn has no outgoing edge,
// ignoring the edge with id exclude.
func (in *inspection) missingRelationships(urn string, codes []string, exclude string) ([]string, error) {
	outgoing, err := in.store.OutgoingRelationships(in.ctx, urn)
	if err != nil {
		return nil, fmt.Errorf("outgoing relationships of %s: %w", urn, err)
	}
	have := map[string]struct{}{}
	for _, rel := range outgoing {
		if rel.ID != exclude {
			have[rel.DefinitionCode] = struct{}{}
		}
	}
	var missing []string
	for _, code := range codes {
		if _, ok := have[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing, nil
}
