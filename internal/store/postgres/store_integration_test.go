//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatewarden/internal/domain"
	"gatewarden/internal/store"
	"gatewarden/internal/store/postgres"
	"gatewarden/pkg/sentinel"
	"gatewarden/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	st, err := postgres.New(context.Background(), s.pg.Pool)
	s.Require().NoError(err)
	s.store = st
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.pg.TruncateTables(context.Background(),
		"visitors", "watchlist_entries", "entry_logs", "incidents", "audit_records")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedVisitor() domain.Visitor {
	v := domain.Visitor{
		ID:         uuid.New(),
		FullName:   "Priya Raman",
		Status:     domain.VisitorApproved,
		ValidFrom:  time.Now().Add(-time.Hour).UTC(),
		ValidUntil: time.Now().Add(time.Hour).UTC(),
		GateScope:  []string{"gate-1"},
		FaceIDs:    []string{"face-1", "face-2"},
	}
	_, err := s.pg.Pool.Exec(context.Background(), `
		INSERT INTO visitors (id, full_name, status, valid_from, valid_until, gate_scope, face_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.FullName, v.Status, v.ValidFrom, v.ValidUntil, v.GateScope, v.FaceIDs)
	s.Require().NoError(err)
	return v
}

func (s *PostgresStoreSuite) TestGetVisitorRoundTrip() {
	ctx := context.Background()
	want := s.seedVisitor()

	got, err := s.store.GetVisitor(ctx, want.ID)
	s.Require().NoError(err)
	s.Equal(want.FullName, got.FullName)
	s.Equal(want.FaceIDs, got.FaceIDs)
	s.Equal(want.GateScope, got.GateScope)

	_, err = s.store.GetVisitor(ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListActiveWatchlistFiltersInactive() {
	ctx := context.Background()
	active := uuid.New()
	inactive := uuid.New()
	for _, row := range []struct {
		id     uuid.UUID
		active bool
	}{{active, true}, {inactive, false}} {
		_, err := s.pg.Pool.Exec(ctx, `
			INSERT INTO watchlist_entries (id, subject_name, severity, active, face_ids)
			VALUES ($1, 'subject', 'high', $2, '{wl-face}')`, row.id, row.active)
		s.Require().NoError(err)
	}

	entries, err := s.store.ListActiveWatchlist(ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(active, entries[0].ID)
}

func (s *PostgresStoreSuite) TestEntryLogAppendListAndStats() {
	ctx := context.Background()
	score := 0.61
	subject := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	logs := []domain.EntryLog{
		{ID: uuid.New(), RequestID: uuid.New(), GateID: "gate-1", Decision: domain.DecisionApproved, Reason: domain.ReasonAllChecksPassed, SubjectID: &subject, MatchScore: &score, HighConfidence: true, Timestamp: base},
		{ID: uuid.New(), RequestID: uuid.New(), GateID: "gate-2", Decision: domain.DecisionFlagged, Reason: domain.ReasonWatchlistHit, Timestamp: base.Add(time.Second)},
		{ID: uuid.New(), RequestID: uuid.New(), GateID: "gate-1", Decision: domain.DecisionDenied, Reason: domain.ReasonScoreBelowThreshold, Timestamp: base.Add(2 * time.Second)},
	}
	for i := range logs {
		s.Require().NoError(s.store.AppendEntryLog(ctx, &logs[i]))
	}

	// Duplicate ID conflicts.
	s.ErrorIs(s.store.AppendEntryLog(ctx, &logs[0]), sentinel.ErrConflict)

	all, err := s.store.ListEntryLogs(ctx, store.EntryLogFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal(domain.DecisionDenied, all[0].Decision, "newest first")

	gate1, err := s.store.ListEntryLogs(ctx, store.EntryLogFilter{GateID: "gate-1", Limit: 10})
	s.Require().NoError(err)
	s.Len(gate1, 2)

	stats, err := s.store.EntryStatsSince(ctx, base.Add(-time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(3), stats.Total)
	s.Equal(int64(1), stats.Approved)
	s.Equal(int64(1), stats.Flagged)
	s.Equal(int64(1), stats.Denied)
}

func (s *PostgresStoreSuite) TestMarkAuditedClearsFlag() {
	ctx := context.Background()
	log := domain.EntryLog{
		ID: uuid.New(), RequestID: uuid.New(), GateID: "gate-1",
		Decision: domain.DecisionManualReview, PendingAudit: true, Timestamp: time.Now().UTC(),
	}
	s.Require().NoError(s.store.AppendEntryLog(ctx, &log))
	s.Require().NoError(s.store.MarkAudited(ctx, log.ID))

	got, err := s.store.GetEntryLog(ctx, log.ID)
	s.Require().NoError(err)
	s.False(got.PendingAudit)

	s.ErrorIs(s.store.MarkAudited(ctx, uuid.New()), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestIncidentLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	incident := &domain.Incident{
		ID:            uuid.New(),
		Number:        "INC-2026-0001",
		SubjectID:     uuid.New(),
		SubjectName:   "watched subject",
		GateID:        "gate-1",
		Severity:      domain.SeverityHigh,
		PriorityScore: 3.48,
		Status:        domain.IncidentOpen,
		FirstHitAt:    now,
		LastHitAt:     now,
		TopScore:      0.48,
		EntryLogIDs:   []uuid.UUID{uuid.New()},
		Timeline:      []domain.TimelineEntry{{At: now, Kind: "created"}},
	}
	s.Require().NoError(s.store.UpsertIncident(ctx, incident))

	open, err := s.store.GetOpenIncident(ctx, incident.SubjectID, "gate-1")
	s.Require().NoError(err)
	s.Equal(incident.Number, open.Number)
	s.Len(open.Timeline, 1)

	count, err := s.store.CountIncidents(ctx, now.Year())
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	acked, err := s.store.AdvanceStatus(ctx, incident.ID, domain.IncidentAcknowledged, "op-7", "")
	s.Require().NoError(err)
	s.Equal(domain.IncidentAcknowledged, acked.Status)
	s.Equal("op-7", acked.AcknowledgedBy)

	// Backwards transition is refused.
	_, err = s.store.AdvanceStatus(ctx, incident.ID, domain.IncidentOpen, "op-7", "")
	s.ErrorIs(err, sentinel.ErrInvalidState)

	resolved, err := s.store.AdvanceStatus(ctx, incident.ID, domain.IncidentResolved, "op-8", "cleared")
	s.Require().NoError(err)
	s.Equal("cleared", resolved.ResolutionNote)
	s.Len(resolved.Timeline, 3)

	_, err = s.store.GetOpenIncident(ctx, incident.SubjectID, "gate-1")
	s.ErrorIs(err, sentinel.ErrNotFound)

	pruned, err := s.store.PruneResolved(ctx, time.Now().Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), pruned)
}

func (s *PostgresStoreSuite) TestAppendAuditRecord() {
	ctx := context.Background()
	record := &domain.AuditRecord{
		ID:        uuid.New(),
		RequestID: uuid.New(),
		GateID:    "gate-1",
		Action:    "entry_decision",
		Decision:  domain.DecisionApproved,
		Timestamp: time.Now().UTC(),
	}
	s.Require().NoError(s.store.AppendAuditRecord(ctx, record))

	var count int
	err := s.pg.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}
