package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/impact"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

const (
	ActionEntityCreated              = "ENTITY_CREATED"
	ActionEntityUpdated              = "ENTITY_UPDATED"
	ActionLifecycleTransition        = "LIFECYCLE_TRANSITION"
	ActionRelationshipCreated        = "RELATIONSHIP_CREATED"
	ActionRelationshipUpdated        = "RELATIONSHIP_UPDATED"
	ActionRelationshipDeleted        = "RELATIONSHIP_DELETED"
	ActionAttributeDefinitionUpdated = "ATTRIBUTE_DEFINITION_UPDATED"
	ActionFSMDefinitionUpdated       = "FSM_DEFINITION_UPDATED"
	ActionImpactOverrideApplied      = "IMPACT_OVERRIDE_APPLIED"
	ActionBootstrapped               = "REGISTRY_BOOTSTRAPPED"
)

// CommitOptions identify the actor and whether blocking impacts are overridden.
// Force requires a non-empty Reason.
type CommitOptions struct {
	Actor  string `json:"actor"`
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

func (o CommitOptions) validate() error {
	if o.Force && strings.TrimSpace(o.Reason) == "" {
		return domain.Validationf("force requires a reason")
	}
	return nil
}

func (o CommitOptions) actor() string {
	return defaultString(o.Actor, domain.SystemActor)
}

// Mutation is the outcome of a committed single-target change.
type Mutation struct {
	Report       domain.ImpactReport  `json:"impact_report"`
	Forced       bool                 `json:"forced"`
	Entity       *domain.Entity       `json:"entity,omitempty"`
	Relationship *domain.Relationship `json:"relationship,omitempty"`
}

type CreateEntityInput struct {
	URN        string         `json:"urn"`
	EntityType string         `json:"entity_type"`
	Attributes map[string]any `json:"attributes"`
	FSMState   string         `json:"fsm_state"`
}

type RelationshipInput struct {
	DefinitionURN string         `json:"definition_urn"`
	FromURN       string         `json:"from_urn"`
	ToURN         string         `json:"to_urn"`
	Attributes    map[string]any `json:"attributes"`
}

type RelationshipPatch struct {
	FromURN    string         `json:"from_urn"`
	ToURN      string         `json:"to_urn"`
	Attributes map[string]any `json:"attributes"`
}

// Gateway is the only write path. Every mutation is analyzed and applied in a
// single transaction.
type Gateway struct {
	repo     domain.Repository
	analyzer *impact.Analyzer
	schemas  *SchemaService
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewGateway(repo domain.Repository, analyzer *impact.Analyzer, schemas *SchemaService, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		repo:     repo,
		analyzer: analyzer,
		schemas:  schemas,
		logger:   logger.With("component", "gateway"),
		tracer:   otel.Tracer("registry/gateway"),
	}
}

// applied is what an apply step reports back for auditing.
type applied struct {
	entityURN    string
	action       string
	payload      map[string]any
	entity       *domain.Entity
	relationship *domain.Relationship
	invalidate   []string
	flushSchemas bool
}

type applyFunc func(ctx context.Context, store domain.Store) (applied, error)

func blockedError(report any, blocking int) error {
	return domain.NewError(domain.ErrConflict, fmt.Sprintf("commit blocked by %d blocking impact(s)", blocking)).WithReport(report)
}

// storeFailure marks errors raised by the store during a commit as conflicts,
// keeping the cause. Domain errors pass through untouched.
func storeFailure(err error) error {
	var derr *domain.Error
	if err == nil || errors.As(err, &derr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewError(domain.ErrConflict, "store rejected the change").WithCause(err)
}

func encodePayload(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func blockingImpacts(reports ...domain.ImpactReport) []domain.Impact {
	var out []domain.Impact
	for _, r := range reports {
		for _, i := range r.Impacts {
			if i.Level == domain.LevelBlocking {
				out = append(out, i)
			}
		}
	}
	return out
}

func (g *Gateway) afterCommit(a applied) {
	if g.schemas == nil {
		return
	}
	if a.flushSchemas {
		g.schemas.InvalidateAll()
		return
	}
	for _, typeURN := range a.invalidate {
		g.schemas.Invalidate(typeURN)
	}
}

// commit runs analyze, gate, apply and audit for one change inside one
// transaction.
func (g *Gateway) commit(ctx context.Context, opts CommitOptions, change domain.Change, apply applyFunc) (Mutation, error) {
	if err := opts.validate(); err != nil {
		return Mutation{}, err
	}

	ctx, span := g.tracer.Start(ctx, "gateway.commit", trace.WithAttributes(
		attribute.String("change_type", string(change.Type)),
		attribute.String("target", change.TargetURN),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	var result Mutation
	var done applied
	err := g.repo.WithinTx(ctx, func(ctx context.Context, store domain.Store) error {
		var err error
		result, done, err = g.commitIn(ctx, store, opts, change, apply)
		return err
	})
	if err = storeFailure(err); err != nil {
		span.RecordError(err)
		g.logger.Warn("mutation rejected",
			"change_type", change.Type,
			"urn", change.TargetURN,
			"actor", opts.actor(),
			"blocking", result.Report.Summary.Blocking,
			"error", err,
		)
		return Mutation{}, err
	}

	g.afterCommit(done)
	g.logger.Info("mutation committed",
		"change_type", change.Type,
		"urn", change.TargetURN,
		"actor", opts.actor(),
		"blocking", result.Report.Summary.Blocking,
		"forced", result.Forced,
	)
	return result, nil
}

// commitIn is the body of commit against a store the caller already holds a
// transaction on.
func (g *Gateway) commitIn(ctx context.Context, store domain.Store, opts CommitOptions, change domain.Change, apply applyFunc) (Mutation, applied, error) {
	var result Mutation
	report, err := g.analyzer.Analyze(ctx, store, change)
	if err != nil {
		return result, applied{}, storeFailure(err)
	}
	result.Report = report
	if !report.CanCommit {
		if !opts.Force {
			return result, applied{}, blockedError(report, report.Summary.Blocking)
		}
		result.Forced = true
	}

	done, err := apply(ctx, store)
	if err != nil {
		return result, applied{}, storeFailure(err)
	}
	result.Entity = done.entity
	result.Relationship = done.relationship

	payload := done.payload
	if payload == nil {
		payload = map[string]any{}
	}
	payload["change_type"] = change.Type
	payload["impact_summary"] = report.Summary
	if _, err := store.AppendAuditEvent(ctx, domain.AuditEvent{
		EntityURN: done.entityURN,
		Action:    done.action,
		ActorURN:  opts.actor(),
		Payload:   encodePayload(payload),
	}); err != nil {
		return result, applied{}, storeFailure(err)
	}

	if result.Forced {
		if _, err := store.AppendAuditEvent(ctx, domain.AuditEvent{
			EntityURN: done.entityURN,
			Action:    ActionImpactOverrideApplied,
			ActorURN:  opts.actor(),
			Payload: encodePayload(map[string]any{
				"reason":      opts.Reason,
				"change_type": change.Type,
				"overridden":  blockingImpacts(report),
			}),
		}); err != nil {
			return result, applied{}, storeFailure(err)
		}
	}
	return result, done, nil
}

// CreateEntity validates attributes against the type schema and stores a new
// entity in its lifecycle's initial state.
func (g *Gateway) CreateEntity(ctx context.Context, opts CommitOptions, in CreateEntityInput) (domain.Entity, error) {
	typeURN := schema.ResolveTypeURN(in.EntityType)
	if typeURN == "" {
		return domain.Entity{}, domain.Validationf("entity_type is required")
	}

	ctx, span := g.tracer.Start(ctx, "gateway.commit", trace.WithAttributes(
		attribute.String("change_type", "ENTITY_CREATE"),
		attribute.String("entity_type", typeURN),
	))
	defer span.End()

	var created domain.Entity
	err := g.repo.WithinTx(ctx, func(ctx context.Context, store domain.Store) error {
		var err error
		created, err = g.createAudited(ctx, store, opts, typeURN, in)
		return err
	})
	if err = storeFailure(err); err != nil {
		span.RecordError(err)
		return domain.Entity{}, err
	}

	if isMetaType(typeURN) {
		g.schemas.InvalidateAll()
	}
	g.logger.Info("entity created", "urn", created.URN, "entity_type", typeURN, "actor", opts.actor())
	return created, nil
}

// createAudited creates an entity and appends its audit event on store.
func (g *Gateway) createAudited(ctx context.Context, store domain.Store, opts CommitOptions, typeURN string, in CreateEntityInput) (domain.Entity, error) {
	e, err := g.createEntity(ctx, store, typeURN, in)
	if err != nil {
		return domain.Entity{}, err
	}
	_, err = store.AppendAuditEvent(ctx, domain.AuditEvent{
		EntityURN: e.URN,
		Action:    ActionEntityCreated,
		ActorURN:  opts.actor(),
		Payload: encodePayload(map[string]any{
			"entity_type_urn": e.EntityTypeURN,
			"fsm_state":       e.FSMState,
			"attributes":      e.Attributes,
		}),
	})
	if err != nil {
		return domain.Entity{}, storeFailure(err)
	}
	return e, nil
}

func isMetaType(typeURN string) bool {
	switch typeURN {
	case domain.EntityTypeMetaURN, domain.RelationshipDefMetaURN, domain.FSMDefinitionMetaURN:
		return true
	}
	return false
}

func (g *Gateway) createEntity(ctx context.Context, store domain.Store, typeURN string, in CreateEntityInput) (domain.Entity, error) {
	typeSchema, err := schema.Resolve(ctx, store, typeURN)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Entity{}, domain.Validationf("entity type %s does not exist", typeURN)
		}
		return domain.Entity{}, err
	}

	attrs := typeSchema.ApplyDefaults(in.Attributes)
	urn := strings.TrimSpace(in.URN)
	if urn == "" {
		if name, _ := attrs["name"].(string); typeURN == domain.EntityTypeMetaURN && name != "" {
			urn = schema.ResolveTypeURN(name)
		} else {
			urn = typeURN + ":" + uuid.NewString()
		}
	}

	if problems := typeSchema.ValidateAttributes(attrs, false); len(problems) > 0 {
		return domain.Entity{}, domain.Validationf("%s", strings.Join(problems, "; "))
	}
	if err := validateDefinition(typeURN, urn, attrs); err != nil {
		return domain.Entity{}, err
	}
	if err := ensureUnique(ctx, store, typeSchema, urn, attrs); err != nil {
		return domain.Entity{}, err
	}

	fsm, err := schema.ResolveFSM(ctx, store, typeSchema.LifecycleFSMURN)
	if err != nil {
		return domain.Entity{}, err
	}
	state := strings.TrimSpace(in.FSMState)
	if state == "" {
		state = fsm.Initial
	}
	if !fsm.HasState(state) {
		return domain.Entity{}, domain.Validationf("state %q is not defined by %s", state, fsm.URN)
	}

	created, err := store.CreateEntity(ctx, domain.Entity{
		URN:           urn,
		EntityTypeURN: typeURN,
		Attributes:    attrs,
		FSMState:      state,
	})
	if err != nil {
		return domain.Entity{}, storeFailure(err)
	}
	return created, nil
}

// validateDefinition checks that meta entities project cleanly.
func validateDefinition(typeURN, urn string, attrs map[string]any) error {
	var err error
	switch typeURN {
	case domain.EntityTypeMetaURN:
		_, err = schema.Project(urn, attrs)
	case domain.RelationshipDefMetaURN:
		_, err = schema.ProjectRelationshipDefinition(urn, attrs)
	case domain.FSMDefinitionMetaURN:
		_, err = schema.ProjectFSM(urn, attrs)
	}
	if err != nil && !domain.IsValidation(err) {
		return domain.Validationf("%v", err)
	}
	return err
}

func ensureUnique(ctx context.Context, store domain.Store, typeSchema schema.Schema, urn string, attrs map[string]any) error {
	var unique []schema.AttributeDescriptor
	for _, attr := range typeSchema.Attributes {
		if attr.IsUnique && attrs[attr.Code] != nil {
			unique = append(unique, attr)
		}
	}
	if len(unique) == 0 {
		return nil
	}
	peers, err := store.ListEntitiesByType(ctx, typeSchema.EntityTypeURN)
	if err != nil {
		return err
	}
	for _, attr := range unique {
		for _, peer := range peers {
			if peer.URN != urn && reflect.DeepEqual(peer.Attributes[attr.Code], attrs[attr.Code]) {
				return domain.Conflictf("attribute %q must be unique; %s already holds %v", attr.Code, peer.URN, attrs[attr.Code])
			}
		}
	}
	return nil
}

func entityUpdateChange(urn string, attrs map[string]any, merge bool) domain.Change {
	return domain.Change{
		Type:      domain.ChangeEntityUpdate,
		TargetURN: urn,
		Payload:   map[string]any{"attributes": attrs, "merge": merge},
	}
}

func applyEntityUpdate(urn string, payload map[string]any) applyFunc {
	return func(ctx context.Context, store domain.Store) (applied, error) {
		current, err := store.GetEntity(ctx, urn)
		if err != nil {
			return applied{}, err
		}
		next, err := impact.NextAttributes(current.Attributes, payload)
		if err != nil {
			return applied{}, err
		}
		current.Attributes = next
		saved, err := store.SaveEntity(ctx, current)
		if err != nil {
			return applied{}, err
		}
		a := applied{
			entityURN: saved.URN,
			action:    ActionEntityUpdated,
			payload:   map[string]any{"attributes": next},
			entity:    &saved,
		}
		switch saved.EntityTypeURN {
		case domain.EntityTypeMetaURN:
			a.invalidate = []string{saved.URN}
		case domain.FSMDefinitionMetaURN, domain.RelationshipDefMetaURN:
			a.flushSchemas = true
		}
		return a, nil
	}
}

// UpdateEntity replaces the attribute document of urn.
func (g *Gateway) UpdateEntity(ctx context.Context, opts CommitOptions, urn string, attrs map[string]any) (Mutation, error) {
	return g.updateEntity(ctx, opts, urn, attrs, false)
}

// PatchEntity merges attrs into the attribute document of urn.
func (g *Gateway) PatchEntity(ctx context.Context, opts CommitOptions, urn string, attrs map[string]any) (Mutation, error) {
	return g.updateEntity(ctx, opts, urn, attrs, true)
}

func (g *Gateway) updateEntity(ctx context.Context, opts CommitOptions, urn string, attrs map[string]any, merge bool) (Mutation, error) {
	if strings.TrimSpace(urn) == "" {
		return Mutation{}, domain.Validationf("urn is required")
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	change := entityUpdateChange(urn, attrs, merge)
	return g.commit(ctx, opts, change, applyEntityUpdate(urn, change.Payload))
}

func lifecyclePayload(action, state string) map[string]any {
	payload := map[string]any{}
	if strings.TrimSpace(state) != "" {
		payload["state"] = strings.TrimSpace(state)
	}
	if strings.TrimSpace(action) != "" {
		payload["action"] = strings.TrimSpace(action)
	}
	return payload
}

func applyTransition(urn string, payload map[string]any) applyFunc {
	return func(ctx context.Context, store domain.Store) (applied, error) {
		current, err := store.GetEntity(ctx, urn)
		if err != nil {
			return applied{}, err
		}
		target, _, err := impact.LifecycleTarget(ctx, store, current, payload)
		if err != nil {
			return applied{}, err
		}
		from := current.FSMState
		current.FSMState = target
		saved, err := store.SaveEntity(ctx, current)
		if err != nil {
			return applied{}, err
		}
		return applied{
			entityURN: saved.URN,
			action:    ActionLifecycleTransition,
			payload:   map[string]any{"from": from, "to": target},
			entity:    &saved,
		}, nil
	}
}

// TransitionLifecycle moves urn to a new state. action is a transition name
// (activate, archive, ...) or a state code.
func (g *Gateway) TransitionLifecycle(ctx context.Context, opts CommitOptions, urn, action string) (Mutation, error) {
	if strings.TrimSpace(urn) == "" || strings.TrimSpace(action) == "" {
		return Mutation{}, domain.Validationf("urn and action are required")
	}
	payload, err := g.resolveLifecycleAction(ctx, urn, action)
	if err != nil {
		return Mutation{}, err
	}
	change := domain.Change{Type: domain.ChangeEntityLifecycleTransition, TargetURN: urn, Payload: payload}
	return g.commit(ctx, opts, change, applyTransition(urn, payload))
}

// resolveLifecycleAction treats action as a state code when the entity's FSM
// declares such a state and no transition carries that action name.
func (g *Gateway) resolveLifecycleAction(ctx context.Context, urn, action string) (map[string]any, error) {
	e, err := g.repo.GetEntity(ctx, urn)
	if err != nil {
		if domain.IsNotFound(err) {
			return lifecyclePayload(action, ""), nil
		}
		return nil, err
	}
	typeSchema, err := schema.ResolveOrEmpty(ctx, g.repo, e.EntityTypeURN)
	if err != nil {
		return lifecyclePayload(action, ""), nil
	}
	fsm, err := schema.ResolveFSM(ctx, g.repo, typeSchema.LifecycleFSMURN)
	if err != nil {
		return lifecyclePayload(action, ""), nil
	}
	for _, t := range fsm.Transitions {
		if t.Action == action {
			return lifecyclePayload(action, ""), nil
		}
	}
	if fsm.HasState(action) {
		return lifecyclePayload("", action), nil
	}
	return lifecyclePayload(action, ""), nil
}

func relationshipCreatePayload(in RelationshipInput) map[string]any {
	return map[string]any{
		"definition_urn": strings.TrimSpace(in.DefinitionURN),
		"from_urn":       strings.TrimSpace(in.FromURN),
		"to_urn":         strings.TrimSpace(in.ToURN),
	}
}

func applyRelationshipCreate(in RelationshipInput) applyFunc {
	return func(ctx context.Context, store domain.Store) (applied, error) {
		created, err := store.CreateRelationship(ctx, domain.Relationship{
			DefinitionURN: strings.TrimSpace(in.DefinitionURN),
			FromURN:       strings.TrimSpace(in.FromURN),
			ToURN:         strings.TrimSpace(in.ToURN),
			Attributes:    in.Attributes,
		})
		if err != nil {
			return applied{}, err
		}
		return applied{
			entityURN: created.FromURN,
			action:    ActionRelationshipCreated,
			payload: map[string]any{
				"relationship_id": created.ID,
				"definition_urn":  created.DefinitionURN,
				"to_urn":          created.ToURN,
			},
			relationship: &created,
		}, nil
	}
}

func (g *Gateway) CreateRelationship(ctx context.Context, opts CommitOptions, in RelationshipInput) (Mutation, error) {
	if strings.TrimSpace(in.DefinitionURN) == "" || strings.TrimSpace(in.FromURN) == "" || strings.TrimSpace(in.ToURN) == "" {
		return Mutation{}, domain.Validationf("definition_urn, from_urn and to_urn are required")
	}
	change := domain.Change{Type: domain.ChangeRelationshipCreate, TargetURN: strings.TrimSpace(in.FromURN), Payload: relationshipCreatePayload(in)}
	return g.commit(ctx, opts, change, applyRelationshipCreate(in))
}

func applyRelationshipUpdate(id string, patch RelationshipPatch) applyFunc {
	return func(ctx context.Context, store domain.Store) (applied, error) {
		current, err := store.GetRelationship(ctx, id)
		if err != nil {
			return applied{}, err
		}
		rel := current.Relationship
		before := map[string]any{"from_urn": rel.FromURN, "to_urn": rel.ToURN}
		rel.FromURN = defaultString(strings.TrimSpace(patch.FromURN), rel.FromURN)
		rel.ToURN = defaultString(strings.TrimSpace(patch.ToURN), rel.ToURN)
		if patch.Attributes != nil {
			rel.Attributes = patch.Attributes
		}
		saved, err := store.SaveRelationship(ctx, rel)
		if err != nil {
			return applied{}, err
		}
		return applied{
			entityURN: saved.FromURN,
			action:    ActionRelationshipUpdated,
			payload: map[string]any{
				"relationship_id": saved.ID,
				"before":          before,
				"from_urn":        saved.FromURN,
				"to_urn":          saved.ToURN,
			},
			relationship: &saved,
		}, nil
	}
}

func (g *Gateway) UpdateRelationship(ctx context.Context, opts CommitOptions, id string, patch RelationshipPatch) (Mutation, error) {
	if strings.TrimSpace(id) == "" {
		return Mutation{}, domain.Validationf("relationship id is required")
	}
	payload := map[string]any{}
	if patch.FromURN != "" {
		payload["from_urn"] = strings.TrimSpace(patch.FromURN)
	}
	if patch.ToURN != "" {
		payload["to_urn"] = strings.TrimSpace(patch.ToURN)
	}
	if patch.Attributes != nil {
		payload["attributes"] = patch.Attributes
	}
	change := domain.Change{Type: domain.ChangeRelationshipUpdate, TargetURN: id, Payload: payload}
	return g.commit(ctx, opts, change, applyRelationshipUpdate(id, patch))
}

func applyRelationshipDelete(id string) applyFunc {
	return func(ctx context.Context, store domain.Store) (applied, error) {
		current, err := store.GetRelationship(ctx, id)
		if err != nil {
			return applied{}, err
		}
		if err := store.DeleteRelationship(ctx, id); err != nil {
			return applied{}, err
		}
		rel := current.Relationship
		return applied{
			entityURN: rel.FromURN,
			action:    ActionRelationshipDeleted,
			payload: map[string]any{
				"relationship_id": rel.ID,
				"definition_urn":  rel.DefinitionURN,
				"to_urn":          rel.ToURN,
			},
			relationship: &rel,
		}, nil
	}
}

func (g *Gateway) DeleteRelationship(ctx context.Context, opts CommitOptions, id string) (Mutation, error) {
	if strings.TrimSpace(id) == "" {
		return Mutation{}, domain.Validationf("relationship id is required")
	}
	change := domain.Change{Type: domain.ChangeRelationshipDelete, TargetURN: id}
	return g.commit(ctx, opts, change, applyRelationshipDelete(id))
}

// UpdateAttributeDefinition merges changes into one attribute of an entity type.
func (g *Gateway) UpdateAttributeDefinition(ctx context.Context, opts CommitOptions, typeURN, code string, changes map[string]any) (Mutation, error) {
	typeURN = schema.ResolveTypeURN(typeURN)
	if typeURN == "" || strings.TrimSpace(code) == "" || len(changes) == 0 {
		return Mutation{}, domain.Validationf("entity type, attribute code and changes are required")
	}
	change := domain.Change{
		Type:      domain.ChangeAttributeDefinitionUpdate,
		TargetURN: typeURN,
		Payload:   map[string]any{"code": code, "changes": changes},
	}
	return g.commit(ctx, opts, change, func(ctx context.Context, store domain.Store) (applied, error) {
		typeEntity, err := store.GetEntity(ctx, typeURN)
		if err != nil {
			return applied{}, err
		}
		doc, merged, _ := schema.MergeAttributeDefinition(typeEntity.Attributes, code, changes)
		typeEntity.Attributes = doc
		saved, err := store.SaveEntity(ctx, typeEntity)
		if err != nil {
			return applied{}, err
		}
		return applied{
			entityURN:  typeURN,
			action:     ActionAttributeDefinitionUpdated,
			payload:    map[string]any{"code": code, "definition": merged},
			entity:     &saved,
			invalidate: []string{typeURN},
		}, nil
	})
}

// UpdateFSMDefinition replaces (or creates) a lifecycle machine definition.
func (g *Gateway) UpdateFSMDefinition(ctx context.Context, opts CommitOptions, fsmURN string, definition map[string]any) (Mutation, error) {
	if strings.TrimSpace(fsmURN) == "" || len(definition) == 0 {
		return Mutation{}, domain.Validationf("fsm urn and definition are required")
	}
	change := domain.Change{Type: domain.ChangeFSMDefinitionUpdate, TargetURN: fsmURN, Payload: definition}
	return g.commit(ctx, opts, change, func(ctx context.Context, store domain.Store) (applied, error) {
		existing, err := store.GetEntity(ctx, fsmURN)
		var saved domain.Entity
		switch {
		case err == nil:
			if existing.EntityTypeURN != domain.FSMDefinitionMetaURN {
				return applied{}, domain.Conflictf("%s is not an FSM definition", fsmURN)
			}
			existing.Attributes = definition
			saved, err = store.SaveEntity(ctx, existing)
		case domain.IsNotFound(err):
			saved, err = store.CreateEntity(ctx, domain.Entity{
				URN:           fsmURN,
				EntityTypeURN: domain.FSMDefinitionMetaURN,
				Attributes:    definition,
				FSMState:      domain.StateActive,
			})
		}
		if err != nil {
			return applied{}, err
		}
		return applied{
			entityURN:    fsmURN,
			action:       ActionFSMDefinitionUpdated,
			payload:      map[string]any{"definition": definition},
			entity:       &saved,
			flushSchemas: true,
		}, nil
	})
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}

	return input
}
