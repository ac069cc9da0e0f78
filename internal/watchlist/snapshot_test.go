package watchlist

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewarden/internal/domain"
	"gatewarden/internal/store"
)

type failingSource struct{}

func (failingSource) ListActiveWatchlist(context.Context) ([]domain.WatchlistEntry, error) {
	return nil, errors.New("store down")
}

func entry(active bool, expiresAt *time.Time, faceIDs ...string) domain.WatchlistEntry {
	return domain.WatchlistEntry{
		ID:          uuid.New(),
		SubjectName: "subject",
		Severity:    domain.SeverityMedium,
		Active:      active,
		ExpiresAt:   expiresAt,
		FaceIDs:     faceIDs,
	}
}

func TestRefresher_StartsWithEmptySnapshot(t *testing.T) {
	r := NewRefresher(store.NewMemory(), slog.New(slog.DiscardHandler), nil)
	snap := r.Current()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(0), snap.Version)
	assert.Equal(t, 0, snap.Len())
}

func TestRefresher_PublishesNewVersionWithFaceIndex(t *testing.T) {
	mem := store.NewMemory()
	e := entry(true, nil, "face-1", "face-2")
	mem.PutWatchlistEntry(e)
	r := NewRefresher(mem, slog.New(slog.DiscardHandler), nil)

	require.NoError(t, r.Refresh(context.Background()))
	snap := r.Current()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, 1, snap.Len())

	got, ok := snap.ByFaceID("face-2")
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)
	_, ok = snap.ByFaceID("unknown")
	assert.False(t, ok)
}

func TestRefresher_DropsExpiredEntries(t *testing.T) {
	mem := store.NewMemory()
	past := time.Now().Add(-time.Hour)
	mem.PutWatchlistEntry(entry(true, &past, "expired-face"))
	mem.PutWatchlistEntry(entry(true, nil, "live-face"))
	r := NewRefresher(mem, slog.New(slog.DiscardHandler), nil)

	require.NoError(t, r.Refresh(context.Background()))
	snap := r.Current()
	assert.Equal(t, 1, snap.Len())
	_, ok := snap.ByFaceID("expired-face")
	assert.False(t, ok)
}

func TestRefresher_KeepsPreviousSnapshotOnFailure(t *testing.T) {
	mem := store.NewMemory()
	mem.PutWatchlistEntry(entry(true, nil, "face-1"))
	r := NewRefresher(mem, slog.New(slog.DiscardHandler), nil)
	require.NoError(t, r.Refresh(context.Background()))

	r.source = failingSource{}
	err := r.Refresh(context.Background())
	require.Error(t, err)

	snap := r.Current()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, 1, snap.Len())
}
