// Package watchlist maintains the in-memory snapshot of active watchlist
// entries the match evaluator reads on every request. The snapshot is
// immutable once published and swapped atomically, so the hot path never
// takes a lock and never observes a half-refreshed list.
package watchlist

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/metrics"
	"gatewarden/internal/store"
)

// Snapshot is one published version of the active watchlist.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	entries  []domain.WatchlistEntry
	byFaceID map[string]*domain.WatchlistEntry
}

// ByFaceID resolves a provider face ID to its watchlist entry.
func (s *Snapshot) ByFaceID(faceID string) (*domain.WatchlistEntry, bool) {
	e, ok := s.byFaceID[faceID]
	return e, ok
}

// Entries returns the snapshot contents. Callers must not mutate.
func (s *Snapshot) Entries() []domain.WatchlistEntry {
	return s.entries
}

// Len reports the number of active entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Refresher periodically rebuilds the snapshot from the durable store. A
// failed refresh keeps the previous snapshot; matching against a slightly
// stale list beats refusing to match at all.
type Refresher struct {
	source  store.WatchlistStore
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRefresher seeds an empty version-zero snapshot so reads are valid
// before the first refresh completes.
func NewRefresher(source store.WatchlistStore, logger *slog.Logger, m *metrics.Metrics) *Refresher {
	r := &Refresher{
		source:  source,
		logger:  logger,
		metrics: m,
	}
	r.current.Store(&Snapshot{
		LoadedAt: time.Now().UTC(),
		byFaceID: map[string]*domain.WatchlistEntry{},
	})
	return r
}

// Current returns the active snapshot. Never nil.
func (r *Refresher) Current() *Snapshot {
	return r.current.Load()
}

// Refresh rebuilds and publishes a new snapshot. Entries that are inactive
// or past expires_at are dropped here so the evaluator never has to check.
func (r *Refresher) Refresh(ctx context.Context) error {
	listed, err := r.source.ListActiveWatchlist(ctx)
	if err != nil {
		r.logger.Warn("watchlist refresh failed, keeping previous snapshot",
			"version", r.Current().Version, "error", err)
		return err
	}

	now := time.Now().UTC()
	snap := &Snapshot{
		Version:  r.version.Add(1),
		LoadedAt: now,
		entries:  make([]domain.WatchlistEntry, 0, len(listed)),
		byFaceID: make(map[string]*domain.WatchlistEntry),
	}
	for _, e := range listed {
		if e.ActiveAt(now) {
			snap.entries = append(snap.entries, e)
		}
	}
	for i := range snap.entries {
		for _, faceID := range snap.entries[i].FaceIDs {
			snap.byFaceID[faceID] = &snap.entries[i]
		}
	}

	r.current.Store(snap)
	if r.metrics != nil {
		r.metrics.WatchlistVersion.Set(float64(snap.Version))
		r.metrics.WatchlistSize.Set(float64(snap.Len()))
	}
	r.logger.Info("watchlist snapshot published",
		"version", snap.Version, "entries", snap.Len())
	return nil
}

// Schedule registers the periodic refresh on the given cron runner. An
// overlapping run is skipped rather than queued.
func (r *Refresher) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.Refresh(ctx)
	}))
	return c.AddJob(spec, job)
}
