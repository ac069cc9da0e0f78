package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryLog is the immutable record of a verification request's outcome.
// Corrections require a new log, never an edit; PendingAudit is the single
// exception, cleared by the audit retry worker once the durable write lands.
type EntryLog struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	GateID    string
	Decision  EntryDecision
	Reason    string

	// Matched subject, when any. For visitor matches SubjectID is the
	// visitor ID; for watchlist-driven decisions it is the best hit's entry ID.
	SubjectID      *uuid.UUID
	SubjectName    string
	MatchScore     *float64
	HighConfidence bool

	PendingAudit bool
	Timestamp    time.Time
}
