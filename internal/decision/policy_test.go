package decision

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"gatewarden/internal/domain"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func approvedVisitor() *domain.Visitor {
	return &domain.Visitor{
		ID:         uuid.New(),
		FullName:   "Dana Whitfield",
		Status:     domain.VisitorApproved,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		FaceIDs:    []string{"face-1"},
	}
}

func visitorMatch(v *domain.Visitor, score float64) *domain.VisitorMatch {
	return &domain.VisitorMatch{VisitorID: v.ID, Score: score}
}

func hit(severity domain.Severity, score float64) domain.WatchlistMatch {
	return domain.WatchlistMatch{
		EntryID:     uuid.New(),
		SubjectName: "flagged subject",
		Severity:    severity,
		Score:       score,
	}
}

func TestDecide_ValidVisitorApproved(t *testing.T) {
	v := approvedVisitor()
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: v,
		Match:   domain.MatchResult{Visitor: visitorMatch(v, 0.72)},
	})
	assert.Equal(t, domain.DecisionApproved, out.Decision)
	assert.Equal(t, domain.ReasonAllChecksPassed, out.Reason)
}

func TestDecide_CriticalHitOutranksEverything(t *testing.T) {
	v := approvedVisitor()
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: v,
		Match: domain.MatchResult{
			Visitor:   visitorMatch(v, 0.90),
			Watchlist: []domain.WatchlistMatch{hit(domain.SeverityCritical, 0.41)},
		},
	})
	assert.Equal(t, domain.DecisionFlagged, out.Decision)
	assert.Equal(t, domain.ReasonCriticalWatchlistHit, out.Reason)
}

func TestDecide_CriticalHitWithDegradedVisitorPortionStillFlags(t *testing.T) {
	v := approvedVisitor()
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: v,
		Match: domain.MatchResult{
			VisitorAbsent: true,
			Watchlist:     []domain.WatchlistMatch{hit(domain.SeverityCritical, 0.50)},
		},
	})
	assert.Equal(t, domain.DecisionFlagged, out.Decision)
}

func TestDecide_WatchlistSearchUnavailableGoesToManualReview(t *testing.T) {
	v := approvedVisitor()
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: v,
		Match: domain.MatchResult{
			Visitor:         visitorMatch(v, 0.80),
			WatchlistAbsent: true,
		},
	})
	assert.Equal(t, domain.DecisionManualReview, out.Decision)
	assert.Equal(t, domain.ReasonEvidenceUnavailable, out.Reason)
}

func TestDecide_VisitorVerifyUnavailableGoesToManualReview(t *testing.T) {
	v := approvedVisitor()
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: v,
		Match:   domain.MatchResult{VisitorAbsent: true},
	})
	assert.Equal(t, domain.DecisionManualReview, out.Decision)
	assert.Equal(t, domain.ReasonEvidenceUnavailable, out.Reason)
}

func TestDecide_UnclaimedUnknownSubjectGoesToManualReview(t *testing.T) {
	out := Decide(Input{GateID: "gate-1", Now: now})
	assert.Equal(t, domain.DecisionManualReview, out.Decision)
	assert.Equal(t, domain.ReasonUnregistered, out.Reason)
}

func TestDecide_UnclaimedWithHitFlags(t *testing.T) {
	out := Decide(Input{
		GateID: "gate-1",
		Now:    now,
		Match: domain.MatchResult{
			Watchlist: []domain.WatchlistMatch{hit(domain.SeverityMedium, 0.45)},
		},
	})
	assert.Equal(t, domain.DecisionFlagged, out.Decision)
	assert.Equal(t, domain.ReasonWatchlistHit, out.Reason)
}

func TestDecide_ClaimDenials(t *testing.T) {
	expired := approvedVisitor()
	expired.ValidUntil = now.Add(-time.Minute)

	pending := approvedVisitor()
	pending.Status = domain.VisitorPending

	scoped := approvedVisitor()
	scoped.GateScope = []string{"gate-9"}

	lowScore := approvedVisitor()

	tests := []struct {
		name    string
		visitor *domain.Visitor
		match   domain.MatchResult
		reason  string
	}{
		{"visitor not found", nil, domain.MatchResult{}, domain.ReasonVisitorNotFound},
		{"outside validity window", expired, domain.MatchResult{Visitor: visitorMatch(expired, 0.70)}, domain.ReasonOutsideValidity},
		{"not approved", pending, domain.MatchResult{Visitor: visitorMatch(pending, 0.70)}, domain.ReasonVisitorNotApproved},
		{"wrong gate", scoped, domain.MatchResult{Visitor: visitorMatch(scoped, 0.70)}, domain.ReasonGateNotPermitted},
		{"score below threshold", lowScore, domain.MatchResult{VisitorScore: 0.12}, domain.ReasonScoreBelowThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Decide(Input{
				GateID:  "gate-1",
				Now:     now,
				Claimed: true,
				Visitor: tt.visitor,
				Match:   tt.match,
			})
			assert.Equal(t, domain.DecisionDenied, out.Decision)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestDecide_FailedClaimWithSubCriticalHitStillDenies(t *testing.T) {
	// A denied credential is the operative outcome; the hit still reaches
	// the correlator through the match result, not through the decision.
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: nil,
		Match: domain.MatchResult{
			Watchlist: []domain.WatchlistMatch{hit(domain.SeverityLow, 0.42)},
		},
	})
	assert.Equal(t, domain.DecisionDenied, out.Decision)
	assert.Equal(t, domain.ReasonVisitorNotFound, out.Reason)
}

func TestDecide_VerifiedVisitorWithResidualHitFlags(t *testing.T) {
	v := approvedVisitor()
	out := Decide(Input{
		GateID:  "gate-1",
		Now:     now,
		Claimed: true,
		Visitor: v,
		Match: domain.MatchResult{
			Visitor:   visitorMatch(v, 0.80),
			Watchlist: []domain.WatchlistMatch{hit(domain.SeverityHigh, 0.38)},
		},
	})
	assert.Equal(t, domain.DecisionFlagged, out.Decision)
	assert.Equal(t, domain.ReasonWatchlistHit, out.Reason)
}

func TestDecide_FallbackIsNeverApproval(t *testing.T) {
	// Degenerate inputs must land in manual review.
	out := Decide(Input{})
	assert.Equal(t, domain.DecisionManualReview, out.Decision)
}
