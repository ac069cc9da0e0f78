// Package decision holds the entry decision policy: a pure, ordered rule
// chain over the classified match evidence. No I/O, no clocks of its own;
// everything it needs arrives in the input, so the policy is trivially
// testable and its precedence is visible in one place.
package decision

import (
	"time"

	"gatewarden/internal/domain"
)

// Input is everything the policy may consider for one request.
type Input struct {
	GateID string
	Now    time.Time

	// Claimed is true when the request carried a visitor credential.
	// Visitor is the loaded record, nil when the claim did not resolve.
	Claimed bool
	Visitor *domain.Visitor

	Match domain.MatchResult
}

// Outcome is the policy's verdict.
type Outcome struct {
	Decision domain.EntryDecision
	Reason   string
}

type rule struct {
	name  string
	apply func(Input) (Outcome, bool)
}

// chain is evaluated top to bottom; the first rule that fires wins. Order is
// load-bearing: a critical hit outranks everything, and degraded evidence
// outranks any approval so the engine fails safe.
var chain = []rule{
	{name: "critical_watchlist_hit", apply: criticalWatchlistHit},
	{name: "degraded_evidence", apply: degradedEvidence},
	{name: "unregistered_subject", apply: unregisteredSubject},
	{name: "visitor_verified", apply: visitorVerified},
	{name: "visitor_rejected", apply: visitorRejected},
	{name: "watchlist_hit", apply: watchlistHit},
}

// Decide runs the rule chain. The fallback is manual review, never approval.
func Decide(in Input) Outcome {
	for _, r := range chain {
		if out, ok := r.apply(in); ok {
			return out
		}
	}
	return Outcome{Decision: domain.DecisionManualReview, Reason: domain.ReasonEvidenceUnavailable}
}

// criticalWatchlistHit flags immediately on any critical-severity hit,
// regardless of what the visitor portion says.
func criticalWatchlistHit(in Input) (Outcome, bool) {
	for _, hit := range in.Match.Watchlist {
		if hit.Severity == domain.SeverityCritical {
			return Outcome{Decision: domain.DecisionFlagged, Reason: domain.ReasonCriticalWatchlistHit}, true
		}
	}
	return Outcome{}, false
}

// degradedEvidence sends the subject to manual review when a portion the
// decision depends on is unavailable. A failed watchlist search always
// degrades; a failed visitor verify only matters when a credential was
// claimed.
func degradedEvidence(in Input) (Outcome, bool) {
	if in.Match.WatchlistAbsent || (in.Claimed && in.Visitor != nil && in.Match.VisitorAbsent) {
		return Outcome{Decision: domain.DecisionManualReview, Reason: domain.ReasonEvidenceUnavailable}, true
	}
	return Outcome{}, false
}

// unregisteredSubject covers a capture with no credential and no hits:
// nothing to approve against, nothing to flag.
func unregisteredSubject(in Input) (Outcome, bool) {
	if !in.Claimed && len(in.Match.Watchlist) == 0 {
		return Outcome{Decision: domain.DecisionManualReview, Reason: domain.ReasonUnregistered}, true
	}
	return Outcome{}, false
}

// visitorVerified approves a claimed visitor who matched, is admissible, is
// scoped to this gate, and triggered no watchlist hit.
func visitorVerified(in Input) (Outcome, bool) {
	if !in.Claimed || in.Visitor == nil || in.Match.Visitor == nil || len(in.Match.Watchlist) > 0 {
		return Outcome{}, false
	}
	if ok, _ := in.Visitor.Admissible(in.Now); !ok {
		return Outcome{}, false
	}
	if !in.Visitor.AllowsGate(in.GateID) {
		return Outcome{}, false
	}
	return Outcome{Decision: domain.DecisionApproved, Reason: domain.ReasonAllChecksPassed}, true
}

// visitorRejected denies a claimed visitor who failed any check, naming the
// first failed check as the reason. Fires ahead of the residual watchlist
// rule: a failed credential is denied even when a sub-critical hit exists.
func visitorRejected(in Input) (Outcome, bool) {
	if !in.Claimed {
		return Outcome{}, false
	}
	if in.Visitor == nil {
		return Outcome{Decision: domain.DecisionDenied, Reason: domain.ReasonVisitorNotFound}, true
	}
	if ok, reason := in.Visitor.Admissible(in.Now); !ok {
		return Outcome{Decision: domain.DecisionDenied, Reason: reason}, true
	}
	if !in.Visitor.AllowsGate(in.GateID) {
		return Outcome{Decision: domain.DecisionDenied, Reason: domain.ReasonGateNotPermitted}, true
	}
	if in.Match.Visitor == nil {
		return Outcome{Decision: domain.DecisionDenied, Reason: domain.ReasonScoreBelowThreshold}, true
	}
	return Outcome{}, false
}

// watchlistHit flags any remaining above-threshold hit. Reached only when
// the subject is either unclaimed or a fully verified visitor.
func watchlistHit(in Input) (Outcome, bool) {
	if len(in.Match.Watchlist) > 0 {
		return Outcome{Decision: domain.DecisionFlagged, Reason: domain.ReasonWatchlistHit}, true
	}
	return Outcome{}, false
}
