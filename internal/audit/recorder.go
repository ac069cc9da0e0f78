// Package audit writes the append-only compliance trail. A failed write
// never blocks or reverses a decision: the record is queued for retry, the
// entry log keeps its pending-audit flag, and operators get an alarm on the
// stream instead.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewarden/internal/domain"
	"gatewarden/internal/dispatch"
	"gatewarden/internal/platform/metrics"
	"gatewarden/internal/store"
	"gatewarden/pkg/sentinel"
)

const (
	ActionEntryDecision   = "entry_decision"
	ActionIncidentCreated = "incident_created"
	ActionIncidentUpdated = "incident_updated"
)

type pendingRecord struct {
	record     domain.AuditRecord
	entryLogID uuid.UUID // zero unless the record clears a pending-audit flag
	attempts   int
}

// Recorder writes audit records and retries failed writes in the background.
type Recorder struct {
	audit      store.AuditStore
	entryLogs  store.EntryLogStore
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	queue    []pendingRecord
	logQueue []domain.EntryLog

	retryEvery time.Duration
}

// NewRecorder wires the recorder. Run must be started for retries to drain.
func NewRecorder(audit store.AuditStore, entryLogs store.EntryLogStore, d *dispatch.Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		audit:      audit,
		entryLogs:  entryLogs,
		dispatcher: d,
		logger:     logger,
		metrics:    m,
		retryEvery: 5 * time.Second,
	}
}

// EntryDecision records an entry decision. The returned error tells the
// caller to persist its entry log with the pending-audit flag set; the
// record itself is already queued for retry.
func (r *Recorder) EntryDecision(ctx context.Context, log *domain.EntryLog) error {
	record := domain.AuditRecord{
		ID:        uuid.New(),
		RequestID: log.RequestID,
		GateID:    log.GateID,
		Action:    ActionEntryDecision,
		Decision:  log.Decision,
		Subject:   log.SubjectName,
		Detail:    log.Reason,
		Timestamp: log.Timestamp,
	}
	return r.write(ctx, record, log.ID)
}

// IncidentChange records an incident creation or update.
func (r *Recorder) IncidentChange(ctx context.Context, incident *domain.Incident, created bool) error {
	action := ActionIncidentUpdated
	if created {
		action = ActionIncidentCreated
	}
	record := domain.AuditRecord{
		ID:        uuid.New(),
		RequestID: incident.ID,
		GateID:    incident.GateID,
		Action:    action,
		Subject:   incident.SubjectName,
		Detail:    fmt.Sprintf("%s severity=%s status=%s", incident.Number, incident.Severity, incident.Status),
		Timestamp: time.Now().UTC(),
	}
	return r.write(ctx, record, uuid.Nil)
}

func (r *Recorder) write(ctx context.Context, record domain.AuditRecord, entryLogID uuid.UUID) error {
	err := r.audit.AppendAuditRecord(ctx, &record)
	if err == nil {
		return nil
	}

	r.enqueue(pendingRecord{record: record, entryLogID: entryLogID})
	if r.metrics != nil {
		r.metrics.AuditFailures.Inc()
	}
	r.logger.ErrorContext(ctx, "audit write failed, queued for retry",
		"action", record.Action, "request_id", record.RequestID, "error", err)
	if r.dispatcher != nil {
		r.dispatcher.PublishAlarm(domain.AlarmEvent{
			Kind:      domain.AlarmAuditWriteFailed,
			RequestID: record.RequestID,
			Detail:    record.Action,
		})
	}
	return err
}

// QueueEntryLog schedules a failed entry log append for background retry.
// The caller's decision already stands; this keeps incident references from
// pointing at a log that was never persisted.
func (r *Recorder) QueueEntryLog(log *domain.EntryLog) {
	r.mu.Lock()
	r.logQueue = append(r.logQueue, *log)
	depth := len(r.logQueue)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.PendingEntryLogs.Set(float64(depth))
	}
}

func (r *Recorder) enqueue(p pendingRecord) {
	r.mu.Lock()
	r.queue = append(r.queue, p)
	depth := len(r.queue)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.PendingAudit.Set(float64(depth))
	}
}

// Run drains the retry queue until ctx is done. Records that still fail go
// back to the end of the queue; nothing is ever discarded.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	logBatch := r.logQueue
	r.logQueue = nil
	r.mu.Unlock()

	r.drainEntryLogs(ctx, logBatch)
	if len(batch) == 0 {
		return
	}

	var requeue []pendingRecord
	for _, p := range batch {
		if err := r.audit.AppendAuditRecord(ctx, &p.record); err != nil {
			p.attempts++
			requeue = append(requeue, p)
			continue
		}
		if p.entryLogID != uuid.Nil {
			if err := r.entryLogs.MarkAudited(ctx, p.entryLogID); err != nil {
				r.logger.WarnContext(ctx, "clear pending-audit flag failed",
					"entry_log_id", p.entryLogID, "error", err)
			}
		}
		r.logger.InfoContext(ctx, "audit record recovered",
			"action", p.record.Action, "request_id", p.record.RequestID, "attempts", p.attempts+1)
	}

	r.mu.Lock()
	r.queue = append(requeue, r.queue...)
	depth := len(r.queue)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.PendingAudit.Set(float64(depth))
	}
}

func (r *Recorder) drainEntryLogs(ctx context.Context, batch []domain.EntryLog) {
	var requeue []domain.EntryLog
	for i := range batch {
		err := r.entryLogs.AppendEntryLog(ctx, &batch[i])
		if err != nil && !errors.Is(err, sentinel.ErrConflict) {
			// Conflict means a racing retry already landed it.
			requeue = append(requeue, batch[i])
			continue
		}
		r.logger.InfoContext(ctx, "entry log recovered",
			"entry_log_id", batch[i].ID, "request_id", batch[i].RequestID)
	}

	r.mu.Lock()
	r.logQueue = append(requeue, r.logQueue...)
	depth := len(r.logQueue)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.PendingEntryLogs.Set(float64(depth))
	}
}
