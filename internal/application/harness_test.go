package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/registry/internal/access"
	sqliteadapter "github.com/atvirokodosprendimai/registry/internal/adapters/db/sqlite"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/impact"
	"github.com/atvirokodosprendimai/registry/internal/rules"
)

const secretRules = `
version: "test-1"
rules:
  - scope: ATTRIBUTE
    targetPattern: secret_key
    roleCondition: "!REGISTRY_ADMIN"
    effect: EXCLUDE
`

const seedDocument = `
entity_types:
  - name: team
    attributes:
      - code: name
        data_type: STRING
        required: true
  - name: server
    attributes:
      - code: hostname
        data_type: STRING
        required: true
        unique: true
      - code: status
        data_type: ENUM
        enum_options: [ok, degraded, retired]
        default_value: ok
      - code: secret_key
        data_type: STRING
    relationships:
      - code: depends_on
        target: server
        cardinality: MANY_TO_MANY
    views:
      dependencies:
        nodes: [server]
        edges: [depends_on]
        depth: 2
  - name: user
    attributes:
      - code: email
        data_type: STRING
        required: true
      - code: secret_key
        data_type: STRING
    relationships:
      - code: primary_team
        target: team
        cardinality: MANY_TO_ONE
relationship_definitions:
  - code: owns
    from_entity_type_urn: team
    to_entity_type_urn: server
    cardinality: ONE_TO_MANY
  - code: primary_team
    from_entity_type_urn: user
    to_entity_type_urn: team
    cardinality: MANY_TO_ONE
  - code: depends_on
    from_entity_type_urn: server
    to_entity_type_urn: server
    cardinality: MANY_TO_MANY
    acyclic: true
entities:
  - urn: urn:mg:team:core
    entity_type: team
    attributes: {name: Core}
  - urn: urn:mg:team:edge
    entity_type: team
    attributes: {name: Edge}
  - urn: urn:mg:user:alice
    entity_type: user
    attributes: {email: alice@example.com, secret_key: s3cr3t}
relationships:
  - {definition: primary_team, from: "urn:mg:user:alice", to: "urn:mg:team:core"}
`

var (
	operator = CommitOptions{Actor: "urn:mg:user:ops"}
	member   = access.User{ID: "urn:mg:user:bob", Roles: []string{domain.DefaultRole}}
	admin    = access.User{ID: "urn:mg:user:root", Roles: []string{domain.AdminRole}}
)

type harness struct {
	repo    *sqliteadapter.Repository
	holder  *rules.Holder
	gateway *Gateway
	service *RegistryService
}

func newHarness(t *testing.T, ruleDoc string) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqliteadapter.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	_, err = sqliteadapter.RunMigrations(ctx, db)
	require.NoError(t, err)

	rs := rules.Empty()
	if ruleDoc != "" {
		rs, err = rules.LoadBytes([]byte(ruleDoc))
		require.NoError(t, err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := sqliteadapter.NewRepository(db)
	holder := rules.NewHolder(rs)
	schemas := NewSchemaService(repo, DefaultSchemaTTL)
	h := &harness{
		repo:    repo,
		holder:  holder,
		gateway: NewGateway(repo, impact.NewAnalyzer(logger), schemas, logger),
		service: NewRegistryService(repo, holder, schemas, logger),
	}

	doc, err := ParseSeed([]byte(seedDocument))
	require.NoError(t, err)
	_, err = h.gateway.Seed(ctx, operator, doc)
	require.NoError(t, err)
	return h
}

// servers creates urn:mg:server:s1..sN.
func (h *harness) servers(t *testing.T, n int) []string {
	t.Helper()
	urns := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		e, err := h.gateway.CreateEntity(context.Background(), operator, CreateEntityInput{
			URN:        fmt.Sprintf("urn:mg:server:s%d", i),
			EntityType: "server",
			Attributes: map[string]any{"hostname": fmt.Sprintf("s%d.example.com", i)},
		})
		require.NoError(t, err)
		urns = append(urns, e.URN)
	}
	return urns
}

func (h *harness) link(t *testing.T, code, from, to string) domain.Relationship {
	t.Helper()
	m, err := h.gateway.CreateRelationship(context.Background(), operator, RelationshipInput{
		DefinitionURN: RelationshipURNPrefix + code,
		FromURN:       from,
		ToURN:         to,
	})
	require.NoError(t, err)
	require.NotNil(t, m.Relationship)
	return *m.Relationship
}

func (h *harness) actions(t *testing.T, urn string) []string {
	t.Helper()
	events, err := h.repo.ListAuditEvents(context.Background(), urn, 50)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func reportOf(t *testing.T, err error) domain.ImpactReport {
	t.Helper()
	raw, ok := domain.ReportOf(err)
	require.True(t, ok, "error carries no report: %v", err)
	report, ok := raw.(domain.ImpactReport)
	require.True(t, ok, "unexpected report type %T", raw)
	return report
}
