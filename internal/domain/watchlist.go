package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks watchlist subjects. Higher severities may match at lower
// thresholds and drive incident priority.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable ordering for severities; unknown values rank
// lowest so a malformed entry never outranks a real one.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// PriorityScore converts severity into the incident ordering score used by
// the command-center listing.
func (s Severity) PriorityScore() float64 {
	return float64(s.Rank())
}

// WatchlistEntry is a flagged subject. Read-only to the engine; activation
// changes become visible through snapshot refresh without restart.
type WatchlistEntry struct {
	ID          uuid.UUID
	SubjectName string
	Category    string
	Severity    Severity
	Reason      string
	Active      bool
	ExpiresAt   *time.Time
	FaceIDs     []string
}

// ActiveAt reports whether the entry should participate in matching at the
// given time: active flag set and not past its expiry.
func (e *WatchlistEntry) ActiveAt(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.ExpiresAt != nil && now.After(*e.ExpiresAt) {
		return false
	}
	return true
}
