package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewarden/internal/domain"
	"gatewarden/pkg/sentinel"
)

// Memory is an in-memory implementation of every repository interface. It
// backs local development and tests; semantics mirror the postgres store.
type Memory struct {
	mu        sync.RWMutex
	visitors  map[uuid.UUID]domain.Visitor
	watchlist map[uuid.UUID]domain.WatchlistEntry
	entryLogs map[uuid.UUID]domain.EntryLog
	logOrder  []uuid.UUID
	incidents map[uuid.UUID]domain.Incident
	audit     []domain.AuditRecord

	idemMu sync.Mutex
	idem   map[string]*VerificationResult
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		visitors:  make(map[uuid.UUID]domain.Visitor),
		watchlist: make(map[uuid.UUID]domain.WatchlistEntry),
		entryLogs: make(map[uuid.UUID]domain.EntryLog),
		incidents: make(map[uuid.UUID]domain.Incident),
		idem:      make(map[string]*VerificationResult),
	}
}

// PutVisitor seeds a visitor; used by tests and local fixtures.
func (m *Memory) PutVisitor(v domain.Visitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitors[v.ID] = v
}

// PutWatchlistEntry seeds a watchlist entry.
func (m *Memory) PutWatchlistEntry(e domain.WatchlistEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchlist[e.ID] = e
}

func (m *Memory) GetVisitor(_ context.Context, id uuid.UUID) (*domain.Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visitors[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

func (m *Memory) ListActiveWatchlist(_ context.Context) ([]domain.WatchlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]domain.WatchlistEntry, 0, len(m.watchlist))
	for _, e := range m.watchlist {
		if e.Active {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *Memory) AppendEntryLog(_ context.Context, log *domain.EntryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entryLogs[log.ID]; exists {
		return sentinel.ErrConflict
	}
	m.entryLogs[log.ID] = *log
	m.logOrder = append(m.logOrder, log.ID)
	return nil
}

func (m *Memory) GetEntryLog(_ context.Context, id uuid.UUID) (*domain.EntryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log, ok := m.entryLogs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &log, nil
}

func (m *Memory) ListEntryLogs(_ context.Context, filter EntryLogFilter) ([]domain.EntryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := make([]domain.EntryLog, 0, len(m.logOrder))
	// Newest first, matching the dashboard listing.
	for i := len(m.logOrder) - 1; i >= 0; i-- {
		log := m.entryLogs[m.logOrder[i]]
		if filter.GateID != "" && log.GateID != filter.GateID {
			continue
		}
		if filter.Decision != "" && log.Decision != filter.Decision {
			continue
		}
		if !filter.Since.IsZero() && log.Timestamp.Before(filter.Since) {
			continue
		}
		logs = append(logs, log)
		if filter.Limit > 0 && len(logs) >= filter.Limit {
			break
		}
	}
	return logs, nil
}

func (m *Memory) EntryStatsSince(_ context.Context, since time.Time) (EntryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats EntryStats
	for _, log := range m.entryLogs {
		if log.Timestamp.Before(since) {
			continue
		}
		stats.Total++
		switch log.Decision {
		case domain.DecisionApproved:
			stats.Approved++
		case domain.DecisionDenied:
			stats.Denied++
		case domain.DecisionFlagged:
			stats.Flagged++
		case domain.DecisionManualReview:
			stats.Manual++
		}
	}
	return stats, nil
}

func (m *Memory) MarkAudited(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.entryLogs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	log.PendingAudit = false
	m.entryLogs[id] = log
	return nil
}

func (m *Memory) UpsertIncident(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

func (m *Memory) GetIncident(_ context.Context, id uuid.UUID) (*domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneIncident(&inc)
	return &out, nil
}

func (m *Memory) GetOpenIncident(_ context.Context, subjectID uuid.UUID, gateID string) (*domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Several open incidents can exist for one key when hits land after the
	// cooldown; the newest is the merge target, same as the SQL store's
	// ORDER BY last_hit_at DESC.
	var newest *domain.Incident
	for _, inc := range m.incidents {
		if inc.SubjectID != subjectID || inc.GateID != gateID || inc.Status == domain.IncidentResolved {
			continue
		}
		if newest == nil || inc.LastHitAt.After(newest.LastHitAt) {
			out := cloneIncident(&inc)
			newest = &out
		}
	}
	if newest == nil {
		return nil, sentinel.ErrNotFound
	}
	return newest, nil
}

func (m *Memory) ListOpenIncidents(_ context.Context) ([]domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	open := make([]domain.Incident, 0)
	for _, inc := range m.incidents {
		if inc.Status != domain.IncidentResolved {
			open = append(open, cloneIncident(&inc))
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].PriorityScore != open[j].PriorityScore {
			return open[i].PriorityScore > open[j].PriorityScore
		}
		return open[i].LastHitAt.After(open[j].LastHitAt)
	})
	return open, nil
}

func (m *Memory) CountIncidents(_ context.Context, year int) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, inc := range m.incidents {
		if inc.FirstHitAt.Year() == year {
			count++
		}
	}
	return count, nil
}

func (m *Memory) AdvanceStatus(_ context.Context, id uuid.UUID, next domain.IncidentStatus, operator, note string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !inc.Status.CanAdvanceTo(next) {
		return nil, sentinel.ErrInvalidState
	}
	now := time.Now()
	inc.Status = next
	switch next {
	case domain.IncidentAcknowledged:
		inc.AcknowledgedBy = operator
	case domain.IncidentResolved:
		inc.ResolvedBy = operator
		inc.ResolutionNote = note
	}
	inc.Timeline = append(inc.Timeline, domain.TimelineEntry{
		At:          now,
		Kind:        string(next),
		Description: note,
		Operator:    operator,
	})
	m.incidents[id] = inc
	out := cloneIncident(&inc)
	return &out, nil
}

func (m *Memory) PruneResolved(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for id, inc := range m.incidents {
		if inc.Status == domain.IncidentResolved && inc.LastHitAt.Before(olderThan) {
			delete(m.incidents, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *Memory) AppendAuditRecord(_ context.Context, record *domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *record)
	return nil
}

// AuditRecords returns a copy of the appended audit trail; test helper.
func (m *Memory) AuditRecords() []domain.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.AuditRecord{}, m.audit...)
}

// EntryLogCount reports how many entry logs were appended; test helper.
func (m *Memory) EntryLogCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entryLogs)
}

func (m *Memory) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()
	if _, claimed := m.idem[key]; claimed {
		return false, nil
	}
	m.idem[key] = nil
	return true, nil
}

func (m *Memory) SaveResult(_ context.Context, key string, result VerificationResult) error {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()
	m.idem[key] = &result
	return nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()
	if result, claimed := m.idem[key]; claimed && result == nil {
		delete(m.idem, key)
	}
	return nil
}

func (m *Memory) GetResult(_ context.Context, key string) (*VerificationResult, error) {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()
	result, claimed := m.idem[key]
	if !claimed || result == nil {
		return nil, sentinel.ErrNotFound
	}
	out := *result
	return &out, nil
}

func cloneIncident(inc *domain.Incident) domain.Incident {
	out := *inc
	out.EntryLogIDs = append([]uuid.UUID{}, inc.EntryLogIDs...)
	out.Timeline = append([]domain.TimelineEntry{}, inc.Timeline...)
	return out
}
