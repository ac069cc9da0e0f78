package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerificationRequest is a single gate-capture event. Created per capture
// and discarded once a decision is recorded; only the resulting EntryLog and
// any Incident persist.
type VerificationRequest struct {
	ID               uuid.UUID // doubles as the idempotency key
	GateID           string
	ImageRef         string
	ClaimedVisitorID *uuid.UUID
	SubmittedAt      time.Time
}

// VisitorMatch is the outcome of verifying the capture against the claimed
// visitor's enrolled embeddings.
type VisitorMatch struct {
	VisitorID      uuid.UUID
	Score          float64
	HighConfidence bool
}

// WatchlistMatch is one watchlist hit at or above threshold.
type WatchlistMatch struct {
	EntryID     uuid.UUID
	SubjectName string
	Severity    Severity
	Score       float64
}

// MatchResult is the Match Evaluator's classified output. An absent portion
// means that provider call failed or timed out; the sibling portion is still
// populated.
type MatchResult struct {
	Visitor       *VisitorMatch // nil when no match at or above threshold
	VisitorScore  float64       // best raw score against the claimed visitor
	VisitorAbsent bool          // verify portion unavailable

	Watchlist       []WatchlistMatch // descending score, all hits above threshold
	WatchlistAbsent bool             // search portion unavailable

	EvaluatedAt time.Time
}
