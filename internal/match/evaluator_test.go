package match

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/config"
	"gatewarden/internal/provider"
	"gatewarden/internal/store"
	"gatewarden/internal/watchlist"
)

// fakeProvider scripts per-operation results for the evaluator.
type fakeProvider struct {
	verifyScores map[string]float64 // faceID -> score
	verifyErr    error
	searchHits   []domain.SimilarityResult
	searchErr    error
}

func (f *fakeProvider) Verify(_ context.Context, _, targetFaceID string) (domain.SimilarityResult, error) {
	if f.verifyErr != nil {
		return domain.SimilarityResult{}, f.verifyErr
	}
	score, ok := f.verifyScores[targetFaceID]
	if !ok {
		return domain.SimilarityResult{}, provider.NewError(provider.ErrorNotFound, "verify", "unknown face", nil)
	}
	return domain.SimilarityResult{FaceID: targetFaceID, Score: score, Confidence: score}, nil
}

func (f *fakeProvider) Search(_ context.Context, _, _ string) ([]domain.SimilarityResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHits, nil
}

func thresholdSource(t *testing.T) *config.ThresholdSource {
	t.Helper()
	src, err := config.LoadThresholds(t.TempDir()+"/missing.yaml", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return src
}

func snapshotWith(t *testing.T, entries ...domain.WatchlistEntry) *watchlist.Refresher {
	t.Helper()
	mem := store.NewMemory()
	for _, e := range entries {
		mem.PutWatchlistEntry(e)
	}
	r := watchlist.NewRefresher(mem, slog.New(slog.DiscardHandler), nil)
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func watchEntry(severity domain.Severity, faceIDs ...string) domain.WatchlistEntry {
	return domain.WatchlistEntry{
		ID:          uuid.New(),
		SubjectName: "watched subject",
		Severity:    severity,
		Active:      true,
		FaceIDs:     faceIDs,
	}
}

func testVisitor(faceIDs ...string) *domain.Visitor {
	return &domain.Visitor{
		ID:      uuid.New(),
		Status:  domain.VisitorApproved,
		FaceIDs: faceIDs,
	}
}

func request() domain.VerificationRequest {
	return domain.VerificationRequest{ID: uuid.New(), GateID: "gate-1", ImageRef: "cap-1"}
}

func newEvaluator(t *testing.T, p provider.Provider, r *watchlist.Refresher) *Evaluator {
	t.Helper()
	return NewEvaluator(p, thresholdSource(t), r, slog.New(slog.DiscardHandler))
}

func TestEvaluate_VisitorMatchAboveThreshold(t *testing.T) {
	p := &fakeProvider{verifyScores: map[string]float64{"face-a": 0.31, "face-b": 0.62}}
	e := newEvaluator(t, p, snapshotWith(t))
	v := testVisitor("face-a", "face-b")

	result, err := e.Evaluate(context.Background(), request(), v)
	require.NoError(t, err)
	require.NotNil(t, result.Visitor)
	assert.Equal(t, v.ID, result.Visitor.VisitorID)
	assert.Equal(t, 0.62, result.Visitor.Score)
	assert.True(t, result.Visitor.HighConfidence) // 0.62 >= 0.55
	assert.False(t, result.VisitorAbsent)
}

func TestEvaluate_VisitorBelowThresholdKeepsRawScore(t *testing.T) {
	p := &fakeProvider{verifyScores: map[string]float64{"face-a": 0.20}}
	e := newEvaluator(t, p, snapshotWith(t))

	result, err := e.Evaluate(context.Background(), request(), testVisitor("face-a"))
	require.NoError(t, err)
	assert.Nil(t, result.Visitor)
	assert.Equal(t, 0.20, result.VisitorScore)
}

func TestEvaluate_WatchlistHitPerSeverityThreshold(t *testing.T) {
	critical := watchEntry(domain.SeverityCritical, "crit-face")
	medium := watchEntry(domain.SeverityMedium, "med-face")
	p := &fakeProvider{searchHits: []domain.SimilarityResult{
		// 0.32 clears the critical threshold (0.30) but not the default (0.40).
		{FaceID: "crit-face", Score: 0.32},
		{FaceID: "med-face", Score: 0.32},
	}}
	e := newEvaluator(t, p, snapshotWith(t, critical, medium))

	result, err := e.Evaluate(context.Background(), request(), nil)
	require.NoError(t, err)
	require.Len(t, result.Watchlist, 1)
	assert.Equal(t, critical.ID, result.Watchlist[0].EntryID)
	assert.Equal(t, domain.SeverityCritical, result.Watchlist[0].Severity)
}

func TestEvaluate_WatchlistHitsSortedByScore(t *testing.T) {
	a := watchEntry(domain.SeverityMedium, "face-a")
	b := watchEntry(domain.SeverityMedium, "face-b")
	p := &fakeProvider{searchHits: []domain.SimilarityResult{
		{FaceID: "face-a", Score: 0.45},
		{FaceID: "face-b", Score: 0.61},
	}}
	e := newEvaluator(t, p, snapshotWith(t, a, b))

	result, err := e.Evaluate(context.Background(), request(), nil)
	require.NoError(t, err)
	require.Len(t, result.Watchlist, 2)
	assert.Equal(t, 0.61, result.Watchlist[0].Score)
	assert.Equal(t, 0.45, result.Watchlist[1].Score)
}

func TestEvaluate_DuplicateFacesOfOneEntryCollapse(t *testing.T) {
	entry := watchEntry(domain.SeverityMedium, "face-a", "face-b")
	p := &fakeProvider{searchHits: []domain.SimilarityResult{
		{FaceID: "face-a", Score: 0.55},
		{FaceID: "face-b", Score: 0.48},
	}}
	e := newEvaluator(t, p, snapshotWith(t, entry))

	result, err := e.Evaluate(context.Background(), request(), nil)
	require.NoError(t, err)
	require.Len(t, result.Watchlist, 1)
	assert.Equal(t, 0.55, result.Watchlist[0].Score)
}

func TestEvaluate_UnknownFaceIDsIgnored(t *testing.T) {
	p := &fakeProvider{searchHits: []domain.SimilarityResult{{FaceID: "ghost", Score: 0.90}}}
	e := newEvaluator(t, p, snapshotWith(t))

	result, err := e.Evaluate(context.Background(), request(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Watchlist)
}

func TestEvaluate_SearchFailureMarksWatchlistAbsent(t *testing.T) {
	p := &fakeProvider{
		verifyScores: map[string]float64{"face-a": 0.70},
		searchErr:    provider.NewError(provider.ErrorUnavailable, "search", "provider down", nil),
	}
	e := newEvaluator(t, p, snapshotWith(t))

	result, err := e.Evaluate(context.Background(), request(), testVisitor("face-a"))
	require.NoError(t, err)
	assert.True(t, result.WatchlistAbsent)
	// The visitor portion survived the sibling's failure.
	require.NotNil(t, result.Visitor)
	assert.Equal(t, 0.70, result.Visitor.Score)
}

func TestEvaluate_VerifyFailureMarksVisitorAbsent(t *testing.T) {
	p := &fakeProvider{
		verifyErr:  provider.NewError(provider.ErrorUnavailable, "verify", "provider down", nil),
		searchHits: []domain.SimilarityResult{},
	}
	e := newEvaluator(t, p, snapshotWith(t))

	result, err := e.Evaluate(context.Background(), request(), testVisitor("face-a"))
	require.NoError(t, err)
	assert.True(t, result.VisitorAbsent)
	assert.False(t, result.WatchlistAbsent)
}

func TestEvaluate_NoFaceIsTerminal(t *testing.T) {
	p := &fakeProvider{
		searchErr: provider.NewError(provider.ErrorNoFaceDetected, "search", "no face", nil),
	}
	e := newEvaluator(t, p, snapshotWith(t))

	_, err := e.Evaluate(context.Background(), request(), nil)
	require.Error(t, err)
	assert.True(t, provider.IsNoFace(err))
}

func TestEvaluate_NoClaimSkipsVerify(t *testing.T) {
	p := &fakeProvider{
		verifyErr:  provider.NewError(provider.ErrorInternal, "verify", "must not be called", nil),
		searchHits: []domain.SimilarityResult{},
	}
	e := newEvaluator(t, p, snapshotWith(t))

	result, err := e.Evaluate(context.Background(), request(), nil)
	require.NoError(t, err)
	assert.Nil(t, result.Visitor)
	assert.False(t, result.VisitorAbsent)
	assert.False(t, result.EvaluatedAt.IsZero())
	assert.WithinDuration(t, time.Now(), result.EvaluatedAt, time.Minute)
}
