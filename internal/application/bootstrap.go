package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

const RelationshipURNPrefix = "urn:mg:rel:"

type BootstrapResult struct {
	Created []string `json:"created"`
}

// Bootstrap seeds the meta types and the default lifecycle machine. Records
// that already exist are left alone.
func (g *Gateway) Bootstrap(ctx context.Context, opts CommitOptions) (BootstrapResult, error) {
	result := BootstrapResult{Created: []string{}}
	err := g.repo.WithinTx(ctx, func(ctx context.Context, store domain.Store) error {
		var err error
		result.Created, err = g.bootstrapIn(ctx, store, opts)
		return err
	})
	if err = storeFailure(err); err != nil {
		return BootstrapResult{}, err
	}
	if len(result.Created) > 0 {
		g.schemas.InvalidateAll()
		g.logger.Info("registry bootstrapped", "created", len(result.Created), "actor", opts.actor())
	}
	return result, nil
}

func (g *Gateway) bootstrapIn(ctx context.Context, store domain.Store, opts CommitOptions) ([]string, error) {
	seed := []domain.Entity{
		{URN: domain.EntityTypeMetaURN, EntityTypeURN: domain.EntityTypeMetaURN, Attributes: map[string]any{"name": "Entity Type", "class": "meta"}},
		{URN: domain.RelationshipDefMetaURN, EntityTypeURN: domain.EntityTypeMetaURN, Attributes: map[string]any{"name": "Relationship Definition", "class": "meta"}},
		{URN: domain.FSMDefinitionMetaURN, EntityTypeURN: domain.EntityTypeMetaURN, Attributes: map[string]any{"name": "FSM Definition", "class": "meta"}},
		{URN: domain.DefaultFSMURN, EntityTypeURN: domain.FSMDefinitionMetaURN, Attributes: schema.DefaultFSMDocument()},
	}

	created := []string{}
	for _, e := range seed {
		if _, err := store.GetEntity(ctx, e.URN); err == nil {
			continue
		} else if !domain.IsNotFound(err) {
			return nil, err
		}
		e.FSMState = domain.StateActive
		if _, err := store.CreateEntity(ctx, e); err != nil {
			return nil, storeFailure(err)
		}
		created = append(created, e.URN)
	}
	if len(created) == 0 {
		return created, nil
	}
	_, err := store.AppendAuditEvent(ctx, domain.AuditEvent{
		EntityURN: domain.EntityTypeMetaURN,
		Action:    ActionBootstrapped,
		ActorURN:  opts.actor(),
		Payload:   encodePayload(map[string]any{"created": created}),
	})
	return created, storeFailure(err)
}

// SeedDocument describes entity types, relationship definitions, lifecycle
// machines, entities and relationships to load in that order.
type SeedDocument struct {
	EntityTypes             []map[string]any `yaml:"entity_types" json:"entity_types"`
	RelationshipDefinitions []map[string]any `yaml:"relationship_definitions" json:"relationship_definitions"`
	FSMDefinitions          []map[string]any `yaml:"fsm_definitions" json:"fsm_definitions"`
	Entities                []SeedEntity     `yaml:"entities" json:"entities"`
	Relationships           []SeedLink       `yaml:"relationships" json:"relationships"`
}

type SeedEntity struct {
	URN        string         `yaml:"urn" json:"urn"`
	EntityType string         `yaml:"entity_type" json:"entity_type"`
	Attributes map[string]any `yaml:"attributes" json:"attributes"`
	FSMState   string         `yaml:"fsm_state" json:"fsm_state"`
}

type SeedLink struct {
	Definition string `yaml:"definition" json:"definition"`
	From       string `yaml:"from" json:"from"`
	To         string `yaml:"to" json:"to"`
}

type SeedResult struct {
	Entities      []string `json:"entities"`
	Relationships []string `json:"relationships"`
}

func ParseSeed(data []byte) (SeedDocument, error) {
	var doc SeedDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return SeedDocument{}, domain.NewError(domain.ErrValidation, "parse seed document").WithCause(err)
	}
	return doc, nil
}

// Seed loads doc through the gateway so every record is validated and audited.
// Records that already exist are skipped, so a document can be applied twice.
// The whole document is one transaction: any failing record leaves the store
// as it was.
func (g *Gateway) Seed(ctx context.Context, opts CommitOptions, doc SeedDocument) (SeedResult, error) {
	if err := opts.validate(); err != nil {
		return SeedResult{}, err
	}
	var result SeedResult
	err := g.repo.WithinTx(ctx, func(ctx context.Context, store domain.Store) error {
		var err error
		result, err = g.seedIn(ctx, store, opts, doc)
		return err
	})
	if err = storeFailure(err); err != nil {
		return SeedResult{}, err
	}

	g.schemas.InvalidateAll()
	g.logger.Info("seed applied", "entities", len(result.Entities), "relationships", len(result.Relationships), "actor", opts.actor())
	return result, nil
}

func (g *Gateway) seedIn(ctx context.Context, store domain.Store, opts CommitOptions, doc SeedDocument) (SeedResult, error) {
	result := SeedResult{Entities: []string{}, Relationships: []string{}}
	if _, err := g.bootstrapIn(ctx, store, opts); err != nil {
		return result, err
	}

	for i, raw := range doc.EntityTypes {
		name := firstText(raw, "urn", "name", "code")
		if name == "" {
			return result, domain.Validationf("entity_types[%d]: name is required", i)
		}
		urn := schema.ResolveTypeURN(name)
		created, err := g.ensureEntity(ctx, store, opts, CreateEntityInput{URN: urn, EntityType: domain.EntityTypeMetaURN, Attributes: withoutKeys(raw, "urn")})
		if err != nil {
			return result, fmt.Errorf("entity type %s: %w", urn, err)
		}
		if created {
			result.Entities = append(result.Entities, urn)
		}
	}

	for i, raw := range doc.FSMDefinitions {
		urn := firstText(raw, "urn")
		if urn == "" {
			return result, domain.Validationf("fsm_definitions[%d]: urn is required", i)
		}
		created, err := g.ensureEntity(ctx, store, opts, CreateEntityInput{URN: urn, EntityType: domain.FSMDefinitionMetaURN, Attributes: withoutKeys(raw, "urn")})
		if err != nil {
			return result, fmt.Errorf("fsm definition %s: %w", urn, err)
		}
		if created {
			result.Entities = append(result.Entities, urn)
		}
	}

	for i, raw := range doc.RelationshipDefinitions {
		urn := firstText(raw, "urn")
		if urn == "" {
			code := firstText(raw, "code", "name")
			if code == "" {
				return result, domain.Validationf("relationship_definitions[%d]: code is required", i)
			}
			urn = RelationshipURNPrefix + code
		}
		created, err := g.ensureEntity(ctx, store, opts, CreateEntityInput{URN: urn, EntityType: domain.RelationshipDefMetaURN, Attributes: withoutKeys(raw, "urn")})
		if err != nil {
			return result, fmt.Errorf("relationship definition %s: %w", urn, err)
		}
		if created {
			result.Entities = append(result.Entities, urn)
		}
	}

	for i, item := range doc.Entities {
		if strings.TrimSpace(item.URN) == "" || strings.TrimSpace(item.EntityType) == "" {
			return result, domain.Validationf("entities[%d]: urn and entity_type are required", i)
		}
		created, err := g.ensureEntity(ctx, store, opts, CreateEntityInput(item))
		if err != nil {
			return result, fmt.Errorf("entity %s: %w", item.URN, err)
		}
		if created {
			result.Entities = append(result.Entities, item.URN)
		}
	}

	for i, link := range doc.Relationships {
		definition := strings.TrimSpace(link.Definition)
		if definition != "" && !strings.HasPrefix(definition, "urn:") {
			definition = RelationshipURNPrefix + definition
		}
		id, err := g.ensureRelationship(ctx, store, opts, RelationshipInput{DefinitionURN: definition, FromURN: link.From, ToURN: link.To})
		if err != nil {
			return result, fmt.Errorf("relationships[%d]: %w", i, err)
		}
		if id != "" {
			result.Relationships = append(result.Relationships, id)
		}
	}
	return result, nil
}

func (g *Gateway) ensureEntity(ctx context.Context, store domain.Store, opts CommitOptions, in CreateEntityInput) (bool, error) {
	if _, err := store.GetEntity(ctx, in.URN); err == nil {
		return false, nil
	} else if !domain.IsNotFound(err) {
		return false, err
	}
	typeURN := schema.ResolveTypeURN(in.EntityType)
	if _, err := g.createAudited(ctx, store, opts, typeURN, in); err != nil {
		return false, err
	}
	return true, nil
}

// ensureRelationship returns the id of a newly created edge, or "" when the
// edge already exists.
func (g *Gateway) ensureRelationship(ctx context.Context, store domain.Store, opts CommitOptions, in RelationshipInput) (string, error) {
	if strings.TrimSpace(in.DefinitionURN) == "" || strings.TrimSpace(in.FromURN) == "" || strings.TrimSpace(in.ToURN) == "" {
		return "", domain.Validationf("definition, from and to are required")
	}
	existing, err := store.ListRelationships(ctx, domain.RelationshipFilter{DefinitionURN: in.DefinitionURN, FromURN: in.FromURN, ToURN: in.ToURN, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return "", nil
	}
	change := domain.Change{Type: domain.ChangeRelationshipCreate, TargetURN: strings.TrimSpace(in.FromURN), Payload: relationshipCreatePayload(in)}
	mutation, _, err := g.commitIn(ctx, store, opts, change, applyRelationshipCreate(in))
	if err != nil {
		return "", err
	}
	if mutation.Relationship == nil {
		return "", errors.New("relationship was not created")
	}
	return mutation.Relationship.ID, nil
}

func firstText(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func withoutKeys(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, key := range keys {
		delete(out, key)
	}
	return out
}
