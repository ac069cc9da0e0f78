// Package verify orchestrates the gate verification flow: idempotency
// reservation, evidence gathering, the decision policy, the entry log and
// audit commit, alert correlation, and event dispatch. Everything here is
// bounded by the decision SLA and fails toward manual review, never toward
// approval.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gatewarden/internal/audit"
	"gatewarden/internal/correlate"
	"gatewarden/internal/decision"
	"gatewarden/internal/dispatch"
	"gatewarden/internal/domain"
	"gatewarden/internal/match"
	"gatewarden/internal/platform/config"
	"gatewarden/internal/provider"
	"gatewarden/internal/platform/metrics"
	"gatewarden/internal/store"
	"gatewarden/pkg/sentinel"
)

// ErrDuplicateInFlight reports a request whose idempotency key is reserved
// by a submission that has not finished yet.
var ErrDuplicateInFlight = errors.New("verification already in flight for this request")

// idempotencyTTL bounds how long a request key stays claimed. Long enough
// for any sane gate retry policy, short enough not to accrete.
const idempotencyTTL = 24 * time.Hour

// Service is the verification engine's front door.
type Service struct {
	visitors   store.VisitorStore
	entryLogs  store.EntryLogStore
	idem       store.IdempotencyStore
	evaluator  *match.Evaluator
	correlator *correlate.Correlator
	dispatcher *dispatch.Dispatcher
	recorder   *audit.Recorder
	thresholds *config.ThresholdSource

	sla     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Deps bundles the service's collaborators.
type Deps struct {
	Visitors    store.VisitorStore
	EntryLogs   store.EntryLogStore
	Idempotency store.IdempotencyStore
	Evaluator   *match.Evaluator
	Correlator  *correlate.Correlator
	Dispatcher  *dispatch.Dispatcher
	Recorder    *audit.Recorder
	Thresholds  *config.ThresholdSource
	SLA         time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// NewService wires the verification service.
func NewService(d Deps) *Service {
	return &Service{
		visitors:   d.Visitors,
		entryLogs:  d.EntryLogs,
		idem:       d.Idempotency,
		evaluator:  d.Evaluator,
		correlator: d.Correlator,
		dispatcher: d.Dispatcher,
		recorder:   d.Recorder,
		thresholds: d.Thresholds,
		sla:        d.SLA,
		logger:     d.Logger,
		metrics:    d.Metrics,
	}
}

// SubmitVerification processes one gate capture end to end and returns the
// decision. Replays of a completed request return the stored outcome without
// a second entry log; a duplicate still in flight returns
// ErrDuplicateInFlight.
func (s *Service) SubmitVerification(ctx context.Context, req domain.VerificationRequest) (store.VerificationResult, error) {
	if err := validate(req); err != nil {
		return store.VerificationResult{}, err
	}

	key := req.ID.String()
	claimed, err := s.idem.Reserve(ctx, key, idempotencyTTL)
	if err != nil {
		// The gate must not be locked out by the idempotency store; proceed
		// without dedup protection and say so loudly.
		s.logger.ErrorContext(ctx, "idempotency reserve failed, proceeding without dedup",
			"request_id", req.ID, "error", err)
	} else if !claimed {
		if prior, err := s.idem.GetResult(ctx, key); err == nil {
			s.logger.InfoContext(ctx, "replayed verification result",
				"request_id", req.ID, "decision", prior.Decision)
			return *prior, nil
		}
		return store.VerificationResult{}, ErrDuplicateInFlight
	}

	ctx, cancel := context.WithTimeout(ctx, s.sla)
	defer cancel()

	result, err := s.process(ctx, req)
	if err != nil {
		// Nothing was recorded; free the key so the gate can retry.
		if releaseErr := s.idem.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.logger.WarnContext(ctx, "idempotency release failed",
				"request_id", req.ID, "error", releaseErr)
		}
		return store.VerificationResult{}, err
	}

	if err := s.idem.SaveResult(context.WithoutCancel(ctx), key, result); err != nil {
		s.logger.ErrorContext(ctx, "idempotency save failed",
			"request_id", req.ID, "error", err)
	}
	return result, nil
}

func (s *Service) process(ctx context.Context, req domain.VerificationRequest) (store.VerificationResult, error) {
	now := time.Now().UTC()
	claimed := req.ClaimedVisitorID != nil

	visitor, storeDegraded := s.loadVisitor(ctx, req)

	matchResult, err := s.evaluator.Evaluate(ctx, req, visitor)
	var outcome decision.Outcome
	switch {
	case err == nil:
		outcome = decision.Decide(decision.Input{
			GateID:  req.GateID,
			Now:     now,
			Claimed: claimed,
			Visitor: visitor,
			Match:   matchResult,
		})
		if storeDegraded && outcome.Decision == domain.DecisionDenied {
			// The denial would rest on a visitor record we could not read.
			outcome = decision.Outcome{
				Decision: domain.DecisionManualReview,
				Reason:   domain.ReasonEvidenceUnavailable,
			}
		}
	case provider.IsNoFace(err):
		// A defective capture is an input problem, not missing evidence. The
		// gate still receives a decision and the attempt is logged.
		outcome = decision.Outcome{
			Decision: domain.DecisionManualReview,
			Reason:   domain.ReasonNoFaceDetected,
		}
	default:
		return store.VerificationResult{}, err
	}

	entryLog := s.buildEntryLog(req, visitor, matchResult, outcome, now)

	auditErr := s.recorder.EntryDecision(ctx, entryLog)
	entryLog.PendingAudit = auditErr != nil

	if err := s.entryLogs.AppendEntryLog(ctx, entryLog); err != nil {
		// The decision stands; the log is queued for retry so incidents never
		// reference an entry that was silently dropped.
		s.recorder.QueueEntryLog(entryLog)
		s.logger.ErrorContext(ctx, "entry log append failed, queued for retry",
			"request_id", req.ID, "decision", outcome.Decision, "error", err)
		s.dispatcher.PublishAlarm(domain.AlarmEvent{
			Kind:      domain.AlarmStoreDegraded,
			RequestID: req.ID,
			Detail:    "entry log append failed",
		})
	}

	s.correlateHits(ctx, req, entryLog, matchResult)

	s.dispatcher.PublishDecision(domain.DecisionEvent{
		RequestID:   req.ID,
		EntryLogID:  entryLog.ID,
		GateID:      req.GateID,
		Decision:    outcome.Decision,
		Reason:      outcome.Reason,
		SubjectName: entryLog.SubjectName,
		Score:       entryLog.MatchScore,
	})
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(string(outcome.Decision)).Inc()
	}
	s.logger.InfoContext(ctx, "verification decided",
		"request_id", req.ID,
		"gate_id", req.GateID,
		"decision", outcome.Decision,
		"reason", outcome.Reason,
		"elapsed", time.Since(now))

	return store.VerificationResult{
		Decision:   outcome.Decision,
		EntryLogID: entryLog.ID,
		Reason:     outcome.Reason,
	}, nil
}

// loadVisitor resolves the claimed visitor. A missing record is a policy
// matter (the claim fails); an unavailable store is a degradation the caller
// must not convert into a denial.
func (s *Service) loadVisitor(ctx context.Context, req domain.VerificationRequest) (*domain.Visitor, bool) {
	if req.ClaimedVisitorID == nil {
		return nil, false
	}
	visitor, err := s.visitors.GetVisitor(ctx, *req.ClaimedVisitorID)
	switch {
	case err == nil:
		return visitor, false
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, false
	default:
		s.logger.ErrorContext(ctx, "visitor lookup failed",
			"request_id", req.ID, "visitor_id", req.ClaimedVisitorID, "error", err)
		s.dispatcher.PublishAlarm(domain.AlarmEvent{
			Kind:      domain.AlarmStoreDegraded,
			RequestID: req.ID,
			Detail:    "visitor lookup failed",
		})
		return nil, true
	}
}

func (s *Service) buildEntryLog(req domain.VerificationRequest, visitor *domain.Visitor, m domain.MatchResult, out decision.Outcome, now time.Time) *domain.EntryLog {
	log := &domain.EntryLog{
		ID:        uuid.New(),
		RequestID: req.ID,
		GateID:    req.GateID,
		Decision:  out.Decision,
		Reason:    out.Reason,
		Timestamp: now,
	}

	highConfidenceAt := s.thresholds.Current().HighConfidence
	if out.Decision == domain.DecisionFlagged && len(m.Watchlist) > 0 {
		hit := bestHit(m.Watchlist)
		id := hit.EntryID
		score := hit.Score
		log.SubjectID = &id
		log.SubjectName = hit.SubjectName
		log.MatchScore = &score
		log.HighConfidence = score >= highConfidenceAt
		return log
	}

	if m.Visitor != nil && visitor != nil {
		id := m.Visitor.VisitorID
		score := m.Visitor.Score
		log.SubjectID = &id
		log.SubjectName = visitor.FullName
		log.MatchScore = &score
		log.HighConfidence = m.Visitor.HighConfidence
	} else if visitor != nil {
		score := m.VisitorScore
		log.SubjectName = visitor.FullName
		log.MatchScore = &score
	}
	return log
}

// bestHit prefers the highest severity, then the highest score, so the
// entry log names the subject that drove the flag.
func bestHit(hits []domain.WatchlistMatch) domain.WatchlistMatch {
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Severity.Rank() > best.Severity.Rank() ||
			(h.Severity.Rank() == best.Severity.Rank() && h.Score > best.Score) {
			best = h
		}
	}
	return best
}

// correlateHits runs every above-threshold hit through the correlator,
// regardless of the gate decision: a denied credential does not erase a
// watchlist observation.
func (s *Service) correlateHits(ctx context.Context, req domain.VerificationRequest, entryLog *domain.EntryLog, m domain.MatchResult) {
	for _, hit := range m.Watchlist {
		incident, created, err := s.correlator.Process(ctx, correlate.Hit{
			Match:      hit,
			GateID:     req.GateID,
			EntryLogID: entryLog.ID,
			ObservedAt: entryLog.Timestamp,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "incident correlation failed",
				"request_id", req.ID, "subject", hit.SubjectName, "error", err)
			s.dispatcher.PublishAlarm(domain.AlarmEvent{
				Kind:      domain.AlarmStoreDegraded,
				RequestID: req.ID,
				Detail:    "incident correlation failed",
			})
			continue
		}
		if auditErr := s.recorder.IncidentChange(ctx, incident, created); auditErr != nil {
			s.logger.WarnContext(ctx, "incident audit deferred",
				"incident", incident.Number, "error", auditErr)
		}
		s.dispatcher.PublishIncident(incident, created)
	}
}

func validate(req domain.VerificationRequest) error {
	switch {
	case req.ID == uuid.Nil:
		return fmt.Errorf("%w: request id required", sentinel.ErrInvalidState)
	case req.GateID == "":
		return fmt.Errorf("%w: gate id required", sentinel.ErrInvalidState)
	case req.ImageRef == "":
		return fmt.Errorf("%w: image ref required", sentinel.ErrInvalidState)
	}
	return nil
}
