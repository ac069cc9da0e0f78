// Package store defines the engine's repository interfaces to the durable
// store. The engine only reads and writes through these; storage internals
// (drivers, schemas) stay behind the implementations. Infrastructure
// failures surface as sentinel.ErrUnavailable / sentinel.ErrNotFound so the
// verification path can degrade without inspecting driver errors.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gatewarden/internal/domain"
)

// VisitorStore reads pre-registered visitors. Registration and approval are
// owned by an external workflow; the engine never writes here.
type VisitorStore interface {
	GetVisitor(ctx context.Context, id uuid.UUID) (*domain.Visitor, error)
}

// WatchlistStore reads the active watchlist for snapshot refresh.
type WatchlistStore interface {
	ListActiveWatchlist(ctx context.Context) ([]domain.WatchlistEntry, error)
}

// EntryLogFilter narrows entry log listings.
type EntryLogFilter struct {
	GateID   string
	Decision domain.EntryDecision
	Since    time.Time
	Limit    int
}

// EntryStats summarizes entry logs for the dashboard.
type EntryStats struct {
	Total    int64
	Approved int64
	Denied   int64
	Flagged  int64
	Manual   int64
}

// EntryLogStore appends and reads immutable entry logs. Append is the only
// write; MarkAudited flips the single mutable flag once the queued audit
// write lands.
type EntryLogStore interface {
	AppendEntryLog(ctx context.Context, log *domain.EntryLog) error
	GetEntryLog(ctx context.Context, id uuid.UUID) (*domain.EntryLog, error)
	ListEntryLogs(ctx context.Context, filter EntryLogFilter) ([]domain.EntryLog, error)
	EntryStatsSince(ctx context.Context, since time.Time) (EntryStats, error)
	MarkAudited(ctx context.Context, id uuid.UUID) error
}

// IncidentStore persists correlated incidents. UpsertIncident is idempotent
// on incident ID; status changes go through AdvanceStatus which enforces the
// monotonic open → acknowledged → resolved order.
type IncidentStore interface {
	UpsertIncident(ctx context.Context, incident *domain.Incident) error
	GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error)
	GetOpenIncident(ctx context.Context, subjectID uuid.UUID, gateID string) (*domain.Incident, error)
	ListOpenIncidents(ctx context.Context) ([]domain.Incident, error)
	CountIncidents(ctx context.Context, year int) (int64, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, next domain.IncidentStatus, operator, note string) (*domain.Incident, error)
	PruneResolved(ctx context.Context, olderThan time.Time) (int64, error)
}

// AuditStore is the append-only compliance sink.
type AuditStore interface {
	AppendAuditRecord(ctx context.Context, record *domain.AuditRecord) error
}

// VerificationResult is what the idempotency layer remembers per request key.
type VerificationResult struct {
	Decision   domain.EntryDecision `json:"decision"`
	EntryLogID uuid.UUID            `json:"entry_log_id"`
	Reason     string               `json:"reason,omitempty"`
}

// IdempotencyStore deduplicates verification submissions. Reserve returns
// false when the key was already claimed; SaveResult publishes the outcome
// so replays return it instead of producing a second EntryLog. Release frees
// a reservation whose request failed before any decision was recorded.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, result VerificationResult) error
	GetResult(ctx context.Context, key string) (*VerificationResult, error)
	Release(ctx context.Context, key string) error
}
