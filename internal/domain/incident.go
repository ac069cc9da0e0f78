package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus advances monotonically: open → acknowledged → resolved.
// The matching path never regresses a status; only operator actions move it.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

func (s IncidentStatus) rank() int {
	switch s {
	case IncidentOpen:
		return 1
	case IncidentAcknowledged:
		return 2
	case IncidentResolved:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether a transition from s to next is a forward move.
func (s IncidentStatus) CanAdvanceTo(next IncidentStatus) bool {
	return next.rank() > s.rank()
}

// TimelineEntry is one append-only line in an incident's history.
type TimelineEntry struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"` // created, hit_merged, acknowledged, resolved
	Description string    `json:"description,omitempty"`
	Operator    string    `json:"operator,omitempty"`
}

// Incident is a correlated, deduplicated record of one or more watchlist
// hits on the same (subject, gate). Created by the correlator; mutated only
// by operator actions and by cooldown-window merges.
type Incident struct {
	ID            uuid.UUID      `json:"id"`
	Number        string         `json:"number"` // INC-<year>-<seq>
	SubjectID     uuid.UUID      `json:"subject_id"`
	SubjectName   string         `json:"subject_name"`
	GateID        string         `json:"gate_id"`
	Severity      Severity       `json:"severity"`
	PriorityScore float64        `json:"priority_score"`
	Status        IncidentStatus `json:"status"`

	FirstHitAt  time.Time       `json:"first_hit_at"`
	LastHitAt   time.Time       `json:"last_hit_at"`
	TopScore    float64         `json:"top_score"`
	EntryLogIDs []uuid.UUID     `json:"entry_log_ids"`
	Timeline    []TimelineEntry `json:"timeline"`

	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	ResolvedBy     string `json:"resolved_by,omitempty"`
	ResolutionNote string `json:"resolution_note,omitempty"`
}

// IncidentNumber formats the command-center-facing incident number.
func IncidentNumber(year int, seq int64) string {
	return fmt.Sprintf("INC-%d-%04d", year, seq)
}
