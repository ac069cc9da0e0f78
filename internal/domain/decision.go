package domain

// EntryDecision is the four-valued outcome of a verification request.
type EntryDecision string

const (
	DecisionApproved     EntryDecision = "approved"
	DecisionDenied       EntryDecision = "denied"
	DecisionFlagged      EntryDecision = "flagged"
	DecisionManualReview EntryDecision = "manual_review"
)

// Valid reports whether d is one of the four gate-facing decisions.
func (d EntryDecision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionDenied, DecisionFlagged, DecisionManualReview:
		return true
	}
	return false
}

// Decision reasons recorded on the entry log. These are operator-facing
// strings, not an enum the policy branches on.
const (
	ReasonCriticalWatchlistHit = "watchlist hit at critical severity"
	ReasonWatchlistHit         = "watchlist hit"
	ReasonUnregistered         = "no credential presented and face not recognized"
	ReasonNoFaceDetected       = "no face detected in capture"
	ReasonEvidenceUnavailable  = "verification evidence unavailable"
	ReasonScoreBelowThreshold  = "face match below visitor threshold"
	ReasonOutsideValidity      = "visit approval outside validity window"
	ReasonVisitorNotFound      = "claimed visitor not found"
	ReasonGateNotPermitted     = "visitor not permitted at this gate"
	ReasonVisitorNotApproved   = "visitor not in approved status"
	ReasonAllChecksPassed      = "visitor verified"
)
