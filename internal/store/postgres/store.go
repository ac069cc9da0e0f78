// Package postgres implements the repository interfaces on pgx. Driver
// errors never leave this package: row misses map to sentinel.ErrNotFound
// and everything else to sentinel.ErrUnavailable so the verification path
// can degrade uniformly.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gatewarden/internal/domain"
	"gatewarden/internal/store"
	"gatewarden/pkg/sentinel"
)

// Store implements every repository interface against a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a pool and applies the schema.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) GetVisitor(ctx context.Context, id uuid.UUID) (*domain.Visitor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, full_name, status, valid_from, valid_until, gate_scope, face_ids
		FROM visitors WHERE id = $1`, id)

	var v domain.Visitor
	err := row.Scan(&v.ID, &v.FullName, &v.Status, &v.ValidFrom, &v.ValidUntil, &v.GateScope, &v.FaceIDs)
	if err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

func (s *Store) ListActiveWatchlist(ctx context.Context) ([]domain.WatchlistEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject_name, category, severity, reason, active, expires_at, face_ids
		FROM watchlist_entries WHERE active`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []domain.WatchlistEntry
	for rows.Next() {
		var e domain.WatchlistEntry
		if err := rows.Scan(&e.ID, &e.SubjectName, &e.Category, &e.Severity, &e.Reason, &e.Active, &e.ExpiresAt, &e.FaceIDs); err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, e)
	}
	return entries, mapErr(rows.Err())
}

func (s *Store) AppendEntryLog(ctx context.Context, log *domain.EntryLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entry_logs (id, request_id, gate_id, decision, reason, subject_id, subject_name, match_score, high_confidence, pending_audit, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID, log.RequestID, log.GateID, log.Decision, log.Reason,
		log.SubjectID, log.SubjectName, log.MatchScore, log.HighConfidence,
		log.PendingAudit, log.Timestamp)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return sentinel.ErrConflict
	}
	return mapErr(err)
}

func (s *Store) GetEntryLog(ctx context.Context, id uuid.UUID) (*domain.EntryLog, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, request_id, gate_id, decision, reason, subject_id, subject_name, match_score, high_confidence, pending_audit, ts
		FROM entry_logs WHERE id = $1`, id)
	log, err := scanEntryLog(row)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (s *Store) ListEntryLogs(ctx context.Context, filter store.EntryLogFilter) ([]domain.EntryLog, error) {
	q := `
		SELECT id, request_id, gate_id, decision, reason, subject_id, subject_name, match_score, high_confidence, pending_audit, ts
		FROM entry_logs WHERE TRUE`
	args := []any{}
	if filter.GateID != "" {
		args = append(args, filter.GateID)
		q += fmt.Sprintf(" AND gate_id = $%d", len(args))
	}
	if filter.Decision != "" {
		args = append(args, filter.Decision)
		q += fmt.Sprintf(" AND decision = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		q += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	q += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var logs []domain.EntryLog
	for rows.Next() {
		log, err := scanEntryLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, mapErr(rows.Err())
}

func (s *Store) EntryStatsSince(ctx context.Context, since time.Time) (store.EntryStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE decision = 'approved'),
		       COUNT(*) FILTER (WHERE decision = 'denied'),
		       COUNT(*) FILTER (WHERE decision = 'flagged'),
		       COUNT(*) FILTER (WHERE decision = 'manual_review')
		FROM entry_logs WHERE ts >= $1`, since)

	var stats store.EntryStats
	if err := row.Scan(&stats.Total, &stats.Approved, &stats.Denied, &stats.Flagged, &stats.Manual); err != nil {
		return store.EntryStats{}, mapErr(err)
	}
	return stats, nil
}

func (s *Store) MarkAudited(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE entry_logs SET pending_audit = FALSE WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertIncident(ctx context.Context, incident *domain.Incident) error {
	timeline, err := json.Marshal(incident.Timeline)
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO incidents (id, number, subject_id, subject_name, gate_id, severity, priority_score, status,
		                       first_hit_at, last_hit_at, top_score, entry_log_ids, timeline,
		                       acknowledged_by, resolved_by, resolution_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			severity        = EXCLUDED.severity,
			priority_score  = EXCLUDED.priority_score,
			status          = EXCLUDED.status,
			last_hit_at     = EXCLUDED.last_hit_at,
			top_score       = EXCLUDED.top_score,
			entry_log_ids   = EXCLUDED.entry_log_ids,
			timeline        = EXCLUDED.timeline,
			acknowledged_by = EXCLUDED.acknowledged_by,
			resolved_by     = EXCLUDED.resolved_by,
			resolution_note = EXCLUDED.resolution_note`,
		incident.ID, incident.Number, incident.SubjectID, incident.SubjectName, incident.GateID,
		incident.Severity, incident.PriorityScore, incident.Status,
		incident.FirstHitAt, incident.LastHitAt, incident.TopScore, incident.EntryLogIDs, timeline,
		incident.AcknowledgedBy, incident.ResolvedBy, incident.ResolutionNote)
	return mapErr(err)
}

const incidentColumns = `id, number, subject_id, subject_name, gate_id, severity, priority_score, status,
	first_hit_at, last_hit_at, top_score, entry_log_ids, timeline, acknowledged_by, resolved_by, resolution_note`

func (s *Store) GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	return scanIncident(row)
}

func (s *Store) GetOpenIncident(ctx context.Context, subjectID uuid.UUID, gateID string) (*domain.Incident, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE subject_id = $1 AND gate_id = $2 AND status <> 'resolved'
		ORDER BY last_hit_at DESC LIMIT 1`, subjectID, gateID)
	return scanIncident(row)
}

func (s *Store) ListOpenIncidents(ctx context.Context) ([]domain.Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status <> 'resolved'
		ORDER BY priority_score DESC, last_hit_at DESC`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var open []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		open = append(open, *inc)
	}
	return open, mapErr(rows.Err())
}

func (s *Store) CountIncidents(ctx context.Context, year int) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE date_part('year', first_hit_at) = $1`, year,
	).Scan(&count)
	if err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

// AdvanceStatus moves an incident forward under a row lock so concurrent
// operator actions cannot interleave into a regression.
func (s *Store) AdvanceStatus(ctx context.Context, id uuid.UUID, next domain.IncidentStatus, operator, note string) (*domain.Incident, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr(err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id)
	inc, err := scanIncident(row)
	if err != nil {
		return nil, err
	}
	if !inc.Status.CanAdvanceTo(next) {
		return nil, sentinel.ErrInvalidState
	}

	inc.Status = next
	switch next {
	case domain.IncidentAcknowledged:
		inc.AcknowledgedBy = operator
	case domain.IncidentResolved:
		inc.ResolvedBy = operator
		inc.ResolutionNote = note
	}
	inc.Timeline = append(inc.Timeline, domain.TimelineEntry{
		At:          time.Now().UTC(),
		Kind:        string(next),
		Description: note,
		Operator:    operator,
	})
	timeline, err := json.Marshal(inc.Timeline)
	if err != nil {
		return nil, fmt.Errorf("encode timeline: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE incidents SET status = $2, timeline = $3, acknowledged_by = $4, resolved_by = $5, resolution_note = $6
		WHERE id = $1`,
		id, inc.Status, timeline, inc.AcknowledgedBy, inc.ResolvedBy, inc.ResolutionNote)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return inc, nil
}

func (s *Store) PruneResolved(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM incidents WHERE status = 'resolved' AND last_hit_at < $1`, olderThan)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) AppendAuditRecord(ctx context.Context, record *domain.AuditRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_records (id, request_id, gate_id, action, decision, subject, detail, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.RequestID, record.GateID, record.Action, record.Decision,
		record.Subject, record.Detail, record.Timestamp)
	return mapErr(err)
}

func scanEntryLog(row pgx.Row) (*domain.EntryLog, error) {
	var log domain.EntryLog
	err := row.Scan(&log.ID, &log.RequestID, &log.GateID, &log.Decision, &log.Reason,
		&log.SubjectID, &log.SubjectName, &log.MatchScore, &log.HighConfidence,
		&log.PendingAudit, &log.Timestamp)
	if err != nil {
		return nil, mapErr(err)
	}
	return &log, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var (
		inc      domain.Incident
		timeline []byte
	)
	err := row.Scan(&inc.ID, &inc.Number, &inc.SubjectID, &inc.SubjectName, &inc.GateID,
		&inc.Severity, &inc.PriorityScore, &inc.Status,
		&inc.FirstHitAt, &inc.LastHitAt, &inc.TopScore, &inc.EntryLogIDs, &timeline,
		&inc.AcknowledgedBy, &inc.ResolvedBy, &inc.ResolutionNote)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(timeline, &inc.Timeline); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	return &inc, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return sentinel.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
}
