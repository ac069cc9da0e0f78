package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"gatewarden/internal/domain"
	"gatewarden/internal/store"
	"gatewarden/pkg/requestcontext"
	"gatewarden/pkg/sentinel"
)

const defaultLogLimit = 100

type entryLogsHandler struct {
	logs store.EntryLogStore
}

type entryLogView struct {
	ID             uuid.UUID            `json:"id"`
	RequestID      uuid.UUID            `json:"request_id"`
	GateID         string               `json:"gate_id"`
	Decision       domain.EntryDecision `json:"decision"`
	Reason         string               `json:"reason,omitempty"`
	SubjectID      *uuid.UUID           `json:"subject_id,omitempty"`
	SubjectName    string               `json:"subject_name,omitempty"`
	MatchScore     *float64             `json:"match_score,omitempty"`
	HighConfidence bool                 `json:"high_confidence"`
	PendingAudit   bool                 `json:"pending_audit,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

func (h *entryLogsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EntryLogFilter{
		GateID:   q.Get("gate_id"),
		Decision: domain.EntryDecision(q.Get("decision")),
		Limit:    defaultLogLimit,
	}
	if filter.Decision != "" && !filter.Decision.Valid() {
		writeError(w, http.StatusBadRequest, "unknown decision filter")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}

	logs, err := h.logs.ListEntryLogs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "entry log store unavailable")
		return
	}
	views := make([]entryLogView, 0, len(logs))
	for _, log := range logs {
		views = append(views, toLogView(log))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_logs": views})
}

func (h *entryLogsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chiURLParam(r, "logID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry log id")
		return
	}
	log, err := h.logs.GetEntryLog(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry log not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "entry log store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toLogView(*log))
}

// todayStats summarizes decisions since local midnight for the dashboard
// header counters.
func (h *entryLogsHandler) todayStats(w http.ResponseWriter, r *http.Request) {
	now := requestcontext.Now(r.Context())
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats, err := h.logs.EntryStatsSince(r.Context(), midnight)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "entry log store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total":         stats.Total,
		"approved":      stats.Approved,
		"denied":        stats.Denied,
		"flagged":       stats.Flagged,
		"manual_review": stats.Manual,
	})
}

func toLogView(log domain.EntryLog) entryLogView {
	return entryLogView{
		ID:             log.ID,
		RequestID:      log.RequestID,
		GateID:         log.GateID,
		Decision:       log.Decision,
		Reason:         log.Reason,
		SubjectID:      log.SubjectID,
		SubjectName:    log.SubjectName,
		MatchScore:     log.MatchScore,
		HighConfidence: log.HighConfidence,
		PendingAudit:   log.PendingAudit,
		Timestamp:      log.Timestamp,
	}
}
