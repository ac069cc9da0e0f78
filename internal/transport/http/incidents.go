package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"gatewarden/internal/audit"
	"gatewarden/internal/domain"
	"gatewarden/internal/store"
	"gatewarden/pkg/requestcontext"
	"gatewarden/pkg/sentinel"
)

type incidentsHandler struct {
	incidents store.IncidentStore
	recorder  *audit.Recorder
}

func (h *incidentsHandler) list(w http.ResponseWriter, r *http.Request) {
	open, err := h.incidents.ListOpenIncidents(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "incident store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": open})
}

func (h *incidentsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chiURLParam(r, "incidentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	incident, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "incident store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

type statusChangeRequest struct {
	Note string `json:"note,omitempty"`
}

func (h *incidentsHandler) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, domain.IncidentAcknowledged)
}

func (h *incidentsHandler) resolve(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, domain.IncidentResolved)
}

func (h *incidentsHandler) advance(w http.ResponseWriter, r *http.Request, next domain.IncidentStatus) {
	id, err := uuid.Parse(chiURLParam(r, "incidentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	var body statusChangeRequest
	if r.Body != nil {
		// An empty body is fine; the note is optional.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	operator := requestcontext.Operator(r.Context())
	if operator == "" {
		writeError(w, http.StatusUnauthorized, "operator identity required")
		return
	}

	incident, err := h.incidents.AdvanceStatus(r.Context(), id, next, operator, body.Note)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			writeError(w, http.StatusNotFound, "incident not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			writeError(w, http.StatusConflict, "status cannot move backwards")
		default:
			writeError(w, http.StatusServiceUnavailable, "incident store unavailable")
		}
		return
	}

	// A failed audit write is queued for retry; the status change stands.
	_ = h.recorder.IncidentChange(r.Context(), incident, false)
	writeJSON(w, http.StatusOK, incident)
}
