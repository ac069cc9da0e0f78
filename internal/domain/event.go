package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates entries on the dashboard stream.
type EventKind string

const (
	EventDecision        EventKind = "decision"
	EventIncidentCreated EventKind = "incident_created"
	EventIncidentUpdated EventKind = "incident_updated"
	EventAlarm           EventKind = "alarm"
	EventMissed          EventKind = "missed"
)

// AlarmKind distinguishes operational alarms from subject alerts.
type AlarmKind string

const (
	AlarmAuditWriteFailed AlarmKind = "audit_write_failed"
	AlarmStoreDegraded    AlarmKind = "store_degraded"
	AlarmProviderCircuit  AlarmKind = "provider_circuit"
)

// Event is one entry on the ordered dashboard stream. Seq is assigned by the
// dispatcher at publish time and is strictly increasing per stream.
type Event struct {
	Seq  uint64    `json:"seq"`
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`

	Decision *DecisionEvent `json:"decision,omitempty"`
	Incident *Incident      `json:"incident,omitempty"`
	Alarm    *AlarmEvent    `json:"alarm,omitempty"`

	// Missed carries the number of events dropped for this subscriber when
	// Kind is EventMissed.
	Missed uint64 `json:"missed,omitempty"`
}

// DecisionEvent is the stream projection of an entry decision.
type DecisionEvent struct {
	RequestID   uuid.UUID     `json:"request_id"`
	EntryLogID  uuid.UUID     `json:"entry_log_id"`
	GateID      string        `json:"gate_id"`
	Decision    EntryDecision `json:"decision"`
	Reason      string        `json:"reason,omitempty"`
	SubjectName string        `json:"subject_name,omitempty"`
	Score       *float64      `json:"score,omitempty"`
}

// AlarmEvent surfaces audit/store degradation to operators, distinct from
// subject alerts.
type AlarmEvent struct {
	Kind      AlarmKind `json:"kind"`
	RequestID uuid.UUID `json:"request_id"`
	Detail    string    `json:"detail,omitempty"`
}

// AuditRecord is the append-only compliance record of a decision or incident
// event. Write-only from the engine's perspective.
type AuditRecord struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	GateID    string
	Action    string // entry_decision, incident_created, incident_updated
	Decision  EntryDecision
	Subject   string
	Detail    string
	Timestamp time.Time
}
