package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/impact"
)

var errDiskIO = errors.New("disk I/O error")

// unreliableRepo fails reads inside transactions or the commit itself.
type unreliableRepo struct {
	domain.Repository
	readErr   error
	commitErr error
}

func (r unreliableRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, store domain.Store) error) error {
	err := r.Repository.WithinTx(ctx, func(ctx context.Context, store domain.Store) error {
		if r.readErr != nil {
			store = brokenReads{Store: store, err: r.readErr}
		}
		return fn(ctx, store)
	})
	if err != nil {
		return err
	}
	return r.commitErr
}

type brokenReads struct {
	domain.Store
	err error
}

func (b brokenReads) GetEntity(context.Context, string) (domain.Entity, error) {
	return domain.Entity{}, b.err
}

func (h *harness) gatewayOver(repo domain.Repository) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(repo, impact.NewAnalyzer(logger), NewSchemaService(h.repo, DefaultSchemaTTL), logger)
}

func TestStoreFailuresSurfaceAsConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	s := h.servers(t, 2)

	reads := h.gatewayOver(unreliableRepo{Repository: h.repo, readErr: errDiskIO})
	_, err := reads.PatchEntity(ctx, operator, s[0], map[string]any{"status": "degraded"})
	require.True(t, domain.IsConflict(err), "analyzer read failure: %v", err)
	assert.ErrorIs(t, err, errDiskIO)

	_, err = reads.CommitBulk(ctx, operator, archiveRequest(s))
	require.True(t, domain.IsConflict(err), "bulk read failure: %v", err)
	assert.ErrorIs(t, err, errDiskIO)

	commits := h.gatewayOver(unreliableRepo{Repository: h.repo, commitErr: errDiskIO})
	_, err = commits.PatchEntity(ctx, operator, s[1], map[string]any{"status": "degraded"})
	require.True(t, domain.IsConflict(err), "commit failure: %v", err)
	assert.ErrorIs(t, err, errDiskIO)

	_, err = commits.CreateEntity(ctx, operator, CreateEntityInput{
		EntityType: "server",
		Attributes: map[string]any{"hostname": "s9.example.com"},
	})
	require.True(t, domain.IsConflict(err), "create commit failure: %v", err)
	assert.ErrorIs(t, err, errDiskIO)

	_, err = commits.CommitBulk(ctx, operator, archiveRequest(s))
	require.True(t, domain.IsConflict(err), "bulk commit failure: %v", err)
	assert.ErrorIs(t, err, errDiskIO)
}
