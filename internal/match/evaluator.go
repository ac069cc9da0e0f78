// Package match turns raw provider similarity results into classified
// evidence: a visitor credential match and a set of watchlist hits, each
// thresholded against the hot-reloadable configuration.
package match

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/config"
	"gatewarden/internal/provider"
	"gatewarden/internal/watchlist"
)

// Evaluator gathers both evidence portions concurrently. Provider failures
// on one portion never discard the other: the result marks the failed
// portion absent and the decision policy degrades from there.
type Evaluator struct {
	provider   provider.Provider
	thresholds *config.ThresholdSource
	snapshot   *watchlist.Refresher
	logger     *slog.Logger
}

// NewEvaluator wires the evaluator.
func NewEvaluator(p provider.Provider, thresholds *config.ThresholdSource, snapshot *watchlist.Refresher, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		provider:   p,
		thresholds: thresholds,
		snapshot:   snapshot,
		logger:     logger,
	}
}

// Evaluate runs the visitor verify (when a visitor is claimed) and the
// watchlist search in parallel and classifies the scores. The only error
// returned is a no-face capture defect, which poisons both portions alike;
// everything else degrades into the result.
func (e *Evaluator) Evaluate(ctx context.Context, req domain.VerificationRequest, visitor *domain.Visitor) (domain.MatchResult, error) {
	t := e.thresholds.Current()
	result := domain.MatchResult{EvaluatedAt: time.Now().UTC()}

	// Each goroutine writes only its own portion of result; a no-face error
	// is the sole non-nil return and cancels the sibling, since the capture
	// itself is unusable.
	g, gctx := errgroup.WithContext(ctx)

	if visitor != nil && len(visitor.FaceIDs) > 0 {
		g.Go(func() error {
			match, absent, err := e.verifyVisitor(gctx, req.ImageRef, visitor, t)
			if err != nil {
				return err
			}
			result.Visitor = match.match
			result.VisitorScore = match.best
			result.VisitorAbsent = absent
			return nil
		})
	}

	g.Go(func() error {
		hits, absent, err := e.searchWatchlist(gctx, req.ImageRef, t)
		if err != nil {
			return err
		}
		result.Watchlist = hits
		result.WatchlistAbsent = absent
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.MatchResult{EvaluatedAt: result.EvaluatedAt}, err
	}
	return result, nil
}

type visitorOutcome struct {
	match *domain.VisitorMatch
	best  float64
}

// verifyVisitor scores the capture against each of the claimed visitor's
// enrolled faces and keeps the best. A single face failing with not-found is
// skipped; only a fully failed portion is reported absent.
func (e *Evaluator) verifyVisitor(ctx context.Context, imageRef string, visitor *domain.Visitor, t config.Thresholds) (visitorOutcome, bool, error) {
	var (
		out      visitorOutcome
		attempts int
		failures int
	)
	for _, faceID := range visitor.FaceIDs {
		attempts++
		res, err := e.provider.Verify(ctx, imageRef, faceID)
		if err != nil {
			if provider.IsNoFace(err) {
				return visitorOutcome{}, false, err
			}
			if provider.Category(err) == provider.ErrorNotFound {
				continue
			}
			failures++
			e.logger.WarnContext(ctx, "visitor verify portion failed",
				"visitor_id", visitor.ID, "face_id", faceID, "error", err)
			continue
		}
		if res.Score > out.best {
			out.best = res.Score
		}
	}

	if failures > 0 && failures == attempts {
		return visitorOutcome{}, true, nil
	}
	if out.best >= t.Visitor {
		out.match = &domain.VisitorMatch{
			VisitorID:      visitor.ID,
			Score:          out.best,
			HighConfidence: out.best >= t.HighConfidence,
		}
	}
	return out, false, nil
}

// searchWatchlist queries the watchlist collection and joins candidates
// against the active snapshot, keeping hits at or above the per-severity
// threshold in descending score order.
func (e *Evaluator) searchWatchlist(ctx context.Context, imageRef string, t config.Thresholds) ([]domain.WatchlistMatch, bool, error) {
	candidates, err := e.provider.Search(ctx, imageRef, provider.CollectionWatchlist)
	if err != nil {
		if provider.IsNoFace(err) {
			return nil, false, err
		}
		e.logger.WarnContext(ctx, "watchlist search portion failed", "error", err)
		return nil, true, nil
	}

	snap := e.snapshot.Current()
	hits := make([]domain.WatchlistMatch, 0, len(candidates))
	seen := make(map[string]bool)
	for _, c := range candidates {
		entry, ok := snap.ByFaceID(c.FaceID)
		if !ok || seen[entry.ID.String()] {
			continue
		}
		if c.Score < t.Watchlist.ForSeverity(entry.Severity) {
			continue
		}
		seen[entry.ID.String()] = true
		hits = append(hits, domain.WatchlistMatch{
			EntryID:     entry.ID,
			SubjectName: entry.SubjectName,
			Severity:    entry.Severity,
			Score:       c.Score,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, false, nil
}
