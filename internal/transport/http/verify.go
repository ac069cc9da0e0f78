package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"gatewarden/internal/domain"
	"gatewarden/internal/provider/local"
	"gatewarden/internal/store"
	"gatewarden/internal/verify"
	"gatewarden/pkg/requestcontext"
	"gatewarden/pkg/sentinel"
)

type verifyRequest struct {
	RequestID        uuid.UUID  `json:"request_id"`
	GateID           string     `json:"gate_id"`
	ImageRef         string     `json:"image_ref"`
	ClaimedVisitorID *uuid.UUID `json:"claimed_visitor_id,omitempty"`

	// Embedding carries the capture vector when the gate extracts embeddings
	// on-device; only meaningful with the local provider.
	Embedding []float64 `json:"embedding,omitempty"`
}

type verifyResponse struct {
	RequestID  uuid.UUID            `json:"request_id"`
	Decision   domain.EntryDecision `json:"decision"`
	Reason     string               `json:"reason,omitempty"`
	EntryLogID uuid.UUID            `json:"entry_log_id"`
}

type verifyHandler struct {
	service *verify.Service
	index   *local.Index // nil when a remote provider is configured
}

func (h *verifyHandler) submit(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.GateID == "" {
		body.GateID = requestcontext.GateID(r.Context())
	}

	if len(body.Embedding) > 0 && h.index != nil {
		// A zero vector fails registration; the lookup miss downstream is
		// classified as a no-face capture and decided as manual review.
		_ = h.index.RegisterCapture(body.ImageRef, body.Embedding)
	}

	result, err := h.service.SubmitVerification(r.Context(), domain.VerificationRequest{
		ID:               body.RequestID,
		GateID:           body.GateID,
		ImageRef:         body.ImageRef,
		ClaimedVisitorID: body.ClaimedVisitorID,
		SubmittedAt:      requestcontext.Now(r.Context()),
	})
	if err != nil {
		writeVerifyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		RequestID:  body.RequestID,
		Decision:   result.Decision,
		Reason:     result.Reason,
		EntryLogID: result.EntryLogID,
	})
}

func writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verify.ErrDuplicateInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sentinel.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "verification failed")
	}
}

// replay returns the stored outcome for a completed request, letting gates
// poll after a network failure instead of resubmitting.
type replayHandler struct {
	idem store.IdempotencyStore
}

func (h *replayHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chiURLParam(r, "requestID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	result, err := h.idem.GetResult(r.Context(), id.String())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no recorded outcome")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		RequestID:  id,
		Decision:   result.Decision,
		Reason:     result.Reason,
		EntryLogID: result.EntryLogID,
	})
}
