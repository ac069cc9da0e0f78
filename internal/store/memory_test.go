package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewarden/internal/domain"
	"gatewarden/pkg/sentinel"
)

func openIncident(at time.Time, priority float64) *domain.Incident {
	return &domain.Incident{
		ID:            uuid.New(),
		Number:        "INC-2026-0001",
		SubjectID:     uuid.New(),
		GateID:        "gate-1",
		Severity:      domain.SeverityHigh,
		PriorityScore: priority,
		Status:        domain.IncidentOpen,
		FirstHitAt:    at,
		LastHitAt:     at,
	}
}

func TestMemory_AdvanceStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	incident := openIncident(time.Now(), 3.5)
	require.NoError(t, mem.UpsertIncident(ctx, incident))

	acked, err := mem.AdvanceStatus(ctx, incident.ID, domain.IncidentAcknowledged, "op-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentAcknowledged, acked.Status)
	assert.Equal(t, "op-1", acked.AcknowledgedBy)

	_, err = mem.AdvanceStatus(ctx, incident.ID, domain.IncidentOpen, "op-1", "")
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	resolved, err := mem.AdvanceStatus(ctx, incident.ID, domain.IncidentResolved, "op-2", "done")
	require.NoError(t, err)
	assert.Equal(t, "done", resolved.ResolutionNote)
	assert.Len(t, resolved.Timeline, 2)

	_, err = mem.AdvanceStatus(ctx, incident.ID, domain.IncidentAcknowledged, "op-1", "")
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestMemory_ListOpenIncidentsOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Now()
	low := openIncident(now, 2.4)
	high := openIncident(now, 4.6)
	resolved := openIncident(now, 5.0)
	resolved.Status = domain.IncidentResolved

	for _, inc := range []*domain.Incident{low, high, resolved} {
		require.NoError(t, mem.UpsertIncident(ctx, inc))
	}

	open, err := mem.ListOpenIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, high.ID, open[0].ID)
	assert.Equal(t, low.ID, open[1].ID)
}

func TestMemory_GetOpenIncidentPrefersNewest(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	subject := uuid.New()
	now := time.Now()

	stale := openIncident(now.Add(-10*time.Minute), 3)
	stale.SubjectID = subject
	fresh := openIncident(now, 3)
	fresh.SubjectID = subject

	for _, inc := range []*domain.Incident{stale, fresh} {
		require.NoError(t, mem.UpsertIncident(ctx, inc))
	}

	got, err := mem.GetOpenIncident(ctx, subject, "gate-1")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestMemory_PruneResolvedHonorsCutoff(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	old := openIncident(time.Now().Add(-48*time.Hour), 1)
	old.Status = domain.IncidentResolved
	fresh := openIncident(time.Now(), 1)
	fresh.Status = domain.IncidentResolved
	stillOpen := openIncident(time.Now().Add(-48*time.Hour), 1)

	for _, inc := range []*domain.Incident{old, fresh, stillOpen} {
		require.NoError(t, mem.UpsertIncident(ctx, inc))
	}

	pruned, err := mem.PruneResolved(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = mem.GetIncident(ctx, old.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = mem.GetIncident(ctx, stillOpen.ID)
	assert.NoError(t, err)
}

func TestMemory_IncidentReadsAreIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	incident := openIncident(time.Now(), 1)
	incident.EntryLogIDs = []uuid.UUID{uuid.New()}
	require.NoError(t, mem.UpsertIncident(ctx, incident))

	got, err := mem.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	got.EntryLogIDs = append(got.EntryLogIDs, uuid.New())
	got.Status = domain.IncidentResolved

	again, err := mem.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Len(t, again.EntryLogIDs, 1)
	assert.Equal(t, domain.IncidentOpen, again.Status)
}

func TestMemory_IdempotencyLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	key := uuid.NewString()

	ok, err := mem.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mem.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = mem.GetResult(ctx, key)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	result := VerificationResult{Decision: domain.DecisionApproved, EntryLogID: uuid.New()}
	require.NoError(t, mem.SaveResult(ctx, key, result))
	got, err := mem.GetResult(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, result, *got)

	// Release never drops a completed result.
	require.NoError(t, mem.Release(ctx, key))
	_, err = mem.GetResult(ctx, key)
	assert.NoError(t, err)
}
