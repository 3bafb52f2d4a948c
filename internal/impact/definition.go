package impact

import (
	"fmt"
	"reflect"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

// AttributeChange reads an ATTRIBUTE_DEFINITION_UPDATE payload:
// {"code": ..., "changes": {...}}.
func AttributeChange(payload map[string]any) (string, map[string]any, error) {
	code := payloadString(payload, "code")
	changes, ok := payloadMap(payload, "changes")
	if code == "" || !ok {
		return "", nil, domain.Validationf("payload requires code and a changes object")
	}
	return code, changes, nil
}

func (in *inspection) attributeDefinitionUpdate(change domain.Change) error {
	code, changes, err := AttributeChange(change.Payload)
	if err != nil {
		return err
	}

	typeEntity, ok, err := in.entity(change.TargetURN)
	if err != nil {
		return err
	}
	if !ok || typeEntity.EntityTypeURN != domain.EntityTypeMetaURN {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, change.TargetURN, "entity type %s does not exist", change.TargetURN)
		return nil
	}
	current, err := schema.Project(typeEntity.URN, typeEntity.Attributes)
	if err != nil {
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, typeEntity.URN, "entity type cannot be projected: %v", err)
		return nil
	}
	before, ok := current.Attribute(code)
	if !ok {
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, typeEntity.URN, "attribute %q is not defined on %s", code, typeEntity.URN)
		return nil
	}

	_, merged, _ := schema.MergeAttributeDefinition(typeEntity.Attributes, code, changes)
	after, err := schema.ProjectAttribute(merged)
	if err != nil {
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, typeEntity.URN, "%v", err)
		return nil
	}
	if after.Code != code {
		in.add(domain.CodeSchemaViolation, domain.LevelBlocking, typeEntity.URN, "attribute code cannot change from %q to %q", code, after.Code)
		return nil
	}

	entities, err := in.store.ListEntitiesByType(in.ctx, typeEntity.URN)
	if err != nil {
		return fmt.Errorf("list %s: %w", typeEntity.URN, err)
	}

	shapeChanged := before.DataType != after.DataType || before.IsArray != after.IsArray
	removed := removedOptions(before, after)
	newlyRequired := !before.IsRequired && after.IsRequired

	for _, e := range entities {
		raw, present := e.Attributes[code]
		switch {
		case shapeChanged && present && raw != nil:
			if _, err := schema.Decode(after, raw); err != nil {
				in.touch(e.URN)
				in.add(domain.CodeSchemaViolation, domain.LevelBlocking, e.URN, "existing value cannot be read as %s: %v", after.DataType, err)
			}
		case len(removed) > 0 && present && raw != nil:
			if used := optionsUsed(raw, removed); len(used) > 0 {
				in.touch(e.URN)
				in.add(domain.CodeEnumOptionInUse, domain.LevelWarning, e.URN, "%s still uses removed option(s) %v", e.URN, used)
			}
		}
		if newlyRequired && (!present || raw == nil) && after.DefaultValue == nil {
			in.touch(e.URN)
			in.add(domain.CodeRequiredFieldGap, domain.LevelWarning, e.URN, "%s has no value for newly required %q", e.URN, code)
		}
	}

	if before.Label != after.Label || before.Description != after.Description || !reflect.DeepEqual(before.DefaultValue, after.DefaultValue) {
		in.add(domain.CodeMetadataUpdate, domain.LevelInfo, typeEntity.URN, "attribute %q metadata changed", code)
	}
	return nil
}

func removedOptions(before, after schema.AttributeDescriptor) map[string]struct{} {
	if before.DataType != schema.TypeEnum || after.DataType != schema.TypeEnum {
		return nil
	}
	removed := map[string]struct{}{}
	for _, opt := range before.EnumOptions {
		if !after.HasEnumOption(opt.Value) {
			removed[opt.Value] = struct{}{}
		}
	}
	return removed
}

func optionsUsed(raw any, removed map[string]struct{}) []string {
	var values []any
	if list, ok := raw.([]any); ok {
		values = list
	} else {
		values = []any{raw}
	}
	var used []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			if _, gone := removed[s]; gone {
				used = append(used, s)
			}
		}
	}
	return used
}

func (in *inspection) fsmDefinitionUpdate(change domain.Change) error {
	current, ok, err := in.entity(change.TargetURN)
	if err != nil {
		return err
	}
	if ok && current.EntityTypeURN != domain.FSMDefinitionMetaURN {
		in.add(domain.CodeGraphIntegrityBreak, domain.LevelBlocking, change.TargetURN,
			"%s is a %s, not an FSM definition", change.TargetURN, current.EntityTypeURN)
		return nil
	}

	next, err := schema.ProjectFSM(change.TargetURN, change.Payload)
	if err != nil {
		return err
	}
	previous, err := schema.ResolveFSM(in.ctx, in.store, change.TargetURN)
	if err != nil {
		if !domain.IsNotFound(err) && !domain.IsValidation(err) {
			return err
		}
		previous = schema.FSM{URN: change.TargetURN}
	}

	types, err := in.governedTypes(change.TargetURN)
	if err != nil {
		return err
	}
	for _, typeURN := range types {
		entities, err := in.store.ListEntitiesByType(in.ctx, typeURN)
		if err != nil {
			return fmt.Errorf("list %s: %w", typeURN, err)
		}
		for _, e := range entities {
			if e.FSMState == "" {
				continue
			}
			in.touch(e.URN)
			state, ok := next.State(e.FSMState)
			if !ok {
				in.add(domain.CodeFSMInvalidation, domain.LevelBlocking, e.URN, "%s is in state %q, which the new definition removes", e.URN, e.FSMState)
				continue
			}
			added := addedRequirements(previous, state)
			if len(added) == 0 {
				continue
			}
			missing, err := in.missingRelationships(e.URN, added, "")
			if err != nil {
				return err
			}
			for _, code := range missing {
				in.add(domain.CodeLifecycleBreak, domain.LevelBlocking, e.URN, "state %q now requires a %q relationship that %s lacks", e.FSMState, code, e.URN)
			}
		}
	}

	if next.Initial != previous.Initial || !reflect.DeepEqual(next.Transitions, previous.Transitions) {
		in.add(domain.CodeMetadataUpdate, domain.LevelInfo, change.TargetURN, "transitions of %s changed", change.TargetURN)
	}
	return nil
}

// governedTypes lists the entity types whose lifecycle is fsmURN.
func (in *inspection) governedTypes(fsmURN string) ([]string, error) {
	typeEntities, err := in.store.ListEntitiesByType(in.ctx, domain.EntityTypeMetaURN)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}
	var out []string
	for _, te := range typeEntities {
		declared, _ := te.Attributes["lifecycle_fsm_urn"].(string)
		if declared == fsmURN || (declared == "" && fsmURN == domain.DefaultFSMURN) {
			in.touch(te.URN)
			out = append(out, te.URN)
		}
	}
	return out, nil
}

func addedRequirements(previous schema.FSM, state schema.FSMState) []string {
	had := map[string]struct{}{}
	if old, ok := previous.State(state.Code); ok {
		for _, code := range old.RequiresRelationships {
			had[code] = struct{}{}
		}
	}
	var added []string
	for _, code := range state.RequiresRelationships {
		if _, ok := had[code]; !ok {
			added = append(added, code)
		}
	}
	return added
}
