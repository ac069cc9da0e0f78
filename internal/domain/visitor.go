package domain

import (
	"time"

	"github.com/google/uuid"
)

// VisitorStatus is the approval state of a pre-registered visitor. The
// registration workflow owns transitions; the engine only reads it.
type VisitorStatus string

const (
	VisitorApproved   VisitorStatus = "approved"
	VisitorPending    VisitorStatus = "pending"
	VisitorCancelled  VisitorStatus = "cancelled"
	VisitorExpired    VisitorStatus = "expired"
	VisitorCheckedOut VisitorStatus = "checked_out"
)

// Visitor is a pre-registered identity with enrolled face embeddings and a
// validity window. Read-only to the engine.
type Visitor struct {
	ID         uuid.UUID
	FullName   string
	Status     VisitorStatus
	ValidFrom  time.Time
	ValidUntil time.Time
	GateScope  []string // empty means any gate
	FaceIDs    []string
}

// Admissible reports whether the visitor's status and validity window permit
// entry at the given time, with an operator-facing reason when they do not.
func (v *Visitor) Admissible(now time.Time) (bool, string) {
	if v.Status != VisitorApproved {
		return false, ReasonVisitorNotApproved
	}
	if now.Before(v.ValidFrom) || now.After(v.ValidUntil) {
		return false, ReasonOutsideValidity
	}
	return true, ""
}

// AllowsGate reports whether the visitor's gate scope covers gateID.
func (v *Visitor) AllowsGate(gateID string) bool {
	if len(v.GateScope) == 0 {
		return true
	}
	for _, g := range v.GateScope {
		if g == gateID {
			return true
		}
	}
	return false
}
