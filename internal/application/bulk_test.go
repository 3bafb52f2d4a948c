package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

func archiveRequest(targets []string) BulkRequest {
	return BulkRequest{
		Operation: BulkFSMTransition,
		Targets:   targets,
		Payload:   map[string]any{"action": "archive"},
	}
}

func states(t *testing.T, h *harness, urns []string) map[string]string {
	t.Helper()
	out := make(map[string]string, len(urns))
	for _, urn := range urns {
		e, err := h.repo.GetEntity(context.Background(), urn)
		require.NoError(t, err)
		out[urn] = e.FSMState
	}
	return out
}

func TestBulkCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	targets := h.servers(t, 10)
	h.link(t, "owns", "urn:mg:team:core", targets[3])

	_, err := h.gateway.CommitBulk(ctx, operator, archiveRequest(targets))
	require.True(t, domain.IsConflict(err), "expected conflict, got %v", err)

	raw, ok := domain.ReportOf(err)
	require.True(t, ok)
	result, ok := raw.(BulkResult)
	require.True(t, ok, "unexpected report type %T", raw)
	assert.Equal(t, 1, result.TotalBlocking)
	assert.False(t, result.CanCommit)
	require.Len(t, result.Details, 10)
	assert.Equal(t, targets[3], result.Details[3].Target)
	assert.Equal(t, 1, result.Details[3].Blocking)

	for urn, state := range states(t, h, targets) {
		assert.Equal(t, domain.StateActive, state, urn)
	}
	assert.NotContains(t, h.actions(t, targets[0]), "BULK_FSM_TRANSITION")
}

func TestBulkPreviewNeverPersists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	targets := h.servers(t, 10)
	h.link(t, "owns", "urn:mg:team:core", targets[3])

	result, err := h.gateway.PreviewBulk(ctx, archiveRequest(targets))
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.False(t, result.CanCommit)
	assert.Equal(t, 1, result.TotalBlocking)
	assert.Len(t, result.Details, 10)

	clean, err := h.gateway.PreviewBulk(ctx, archiveRequest(targets[:3]))
	require.NoError(t, err)
	assert.True(t, clean.CanCommit)
	assert.Zero(t, clean.TotalBlocking)

	for urn, state := range states(t, h, targets) {
		assert.Equal(t, domain.StateActive, state, urn)
	}
}

func TestBulkForcedCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	targets := h.servers(t, 10)
	h.link(t, "owns", "urn:mg:team:core", targets[3])

	req := archiveRequest(targets)
	req.Force = true
	_, err := h.gateway.CommitBulk(ctx, operator, req)
	require.True(t, domain.IsValidation(err), "force without reason: %v", err)

	req.Reason = "decommission rack 7"
	result, err := h.gateway.CommitBulk(ctx, operator, req)
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.True(t, result.Forced)

	for urn, state := range states(t, h, targets) {
		assert.Equal(t, domain.StateArchived, state, urn)
	}
	assert.Contains(t, h.actions(t, targets[9]), "BULK_FSM_TRANSITION")
	assert.Contains(t, h.actions(t, targets[0]), ActionImpactOverrideApplied)
}

func TestBulkAttributeSetAndLink(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	targets := h.servers(t, 3)

	result, err := h.gateway.CommitBulk(ctx, operator, BulkRequest{
		Operation: BulkAttributeSet,
		Targets:   targets,
		Payload:   map[string]any{"attributes": map[string]any{"status": "degraded"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Committed)
	for _, urn := range targets {
		e, err := h.repo.GetEntity(ctx, urn)
		require.NoError(t, err)
		assert.Equal(t, "degraded", e.Attributes["status"])
		assert.NotEmpty(t, e.Attributes["hostname"])
	}

	// Later targets see the edges earlier ones created.
	preview, err := h.gateway.PreviewBulk(ctx, BulkRequest{
		Operation: BulkRelationshipLink,
		Targets:   []string{"urn:mg:team:core", "urn:mg:team:edge"},
		Payload:   map[string]any{"definition_urn": RelationshipURNPrefix + "owns", "to_urn": targets[0]},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, preview.Details[0].Blocking)
	assert.Equal(t, 1, preview.Details[1].Blocking)
	assert.Equal(t, domain.CodeCardinalityViolation, preview.Details[1].Report.Impacts[0].Code)

	_, err = h.gateway.PreviewBulk(ctx, BulkRequest{Operation: "EXPLODE", Targets: targets})
	assert.True(t, domain.IsValidation(err))
	_, err = h.gateway.PreviewBulk(ctx, BulkRequest{Operation: BulkAttributeSet, Targets: []string{targets[0], targets[0]}, Payload: map[string]any{"attributes": map[string]any{}}})
	assert.True(t, domain.IsValidation(err))
}
