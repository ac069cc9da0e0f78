// Package local implements the embedding provider contract with an
// in-process vector index. Gates that extract embeddings on-device submit
// the capture vector inline; enrolled vectors are loaded from the durable
// store at startup and on snapshot refresh. Similarity is cosine over
// unit-normalized vectors, so the inner product is the score.
package local

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"gatewarden/internal/domain"
	"gatewarden/internal/provider"
)

// captureTTL bounds how long a registered capture vector stays resolvable.
// A verification request consumes its capture well within this; the TTL only
// guards against abandoned requests leaking vectors.
const captureTTL = 2 * time.Minute

type enrolled struct {
	collection string
	faceID     string
	subjectID  string
	vector     []float64
}

type capture struct {
	vector     []float64
	registered time.Time
}

// Index is a thread-safe in-memory embedding index.
type Index struct {
	mu          sync.RWMutex
	collections map[string][]enrolled
	byFaceID    map[string]enrolled
	captures    map[string]capture
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		collections: make(map[string][]enrolled),
		byFaceID:    make(map[string]enrolled),
		captures:    make(map[string]capture),
	}
}

// Enroll adds or replaces an enrolled embedding in a collection. The vector
// is copied and normalized; a zero vector is ignored.
func (idx *Index) Enroll(collection, faceID, subjectID string, vector []float64) {
	v := normalize(vector)
	if v == nil {
		return
	}
	e := enrolled{collection: collection, faceID: faceID, subjectID: subjectID, vector: v}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.byFaceID[faceID]; ok {
		// The previous enrollment may live in a different collection.
		idx.removeLocked(old.collection, old.faceID)
	}
	idx.byFaceID[faceID] = e
	idx.collections[collection] = append(idx.collections[collection], e)
}

// Remove drops an enrolled embedding, typically when a watchlist entry is
// deactivated.
func (idx *Index) Remove(collection, faceID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.byFaceID[faceID]; ok {
		collection = old.collection
	}
	idx.removeLocked(collection, faceID)
	delete(idx.byFaceID, faceID)
}

// ReplaceCollection swaps a collection's contents wholesale, used by the
// watchlist snapshot refresher.
func (idx *Index) ReplaceCollection(collection string, entries map[string]struct {
	SubjectID string
	Vector    []float64
}) {
	fresh := make([]enrolled, 0, len(entries))
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, old := range idx.collections[collection] {
		delete(idx.byFaceID, old.faceID)
	}
	for faceID, e := range entries {
		v := normalize(e.Vector)
		if v == nil {
			continue
		}
		rec := enrolled{collection: collection, faceID: faceID, subjectID: e.SubjectID, vector: v}
		fresh = append(fresh, rec)
		idx.byFaceID[faceID] = rec
	}
	idx.collections[collection] = fresh
}

// RegisterCapture stores a capture-time vector under a reference the
// verification request carries. Returns false for a zero vector, which the
// caller surfaces as a no-face input defect.
func (idx *Index) RegisterCapture(imageRef string, vector []float64) bool {
	v := normalize(vector)
	if v == nil {
		return false
	}
	now := time.Now()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for ref, c := range idx.captures {
		if now.Sub(c.registered) > captureTTL {
			delete(idx.captures, ref)
		}
	}
	idx.captures[imageRef] = capture{vector: v, registered: now}
	return true
}

// Verify implements provider.Provider against a single enrolled target.
func (idx *Index) Verify(ctx context.Context, imageRef, targetFaceID string) (domain.SimilarityResult, error) {
	probe, err := idx.capture("verify", imageRef)
	if err != nil {
		return domain.SimilarityResult{}, err
	}

	idx.mu.RLock()
	target, ok := idx.byFaceID[targetFaceID]
	idx.mu.RUnlock()
	if !ok {
		return domain.SimilarityResult{}, provider.NewError(provider.ErrorNotFound, "verify", "unknown target face", nil)
	}

	score := floats.Dot(probe, target.vector)
	return domain.SimilarityResult{
		FaceID:     target.faceID,
		SubjectID:  target.subjectID,
		Score:      score,
		Confidence: score,
	}, nil
}

// Search implements provider.Provider against a collection, returning all
// candidates in descending score order. Thresholding belongs to the Match
// Evaluator; the index reports what it saw.
func (idx *Index) Search(ctx context.Context, imageRef, collection string) ([]domain.SimilarityResult, error) {
	probe, err := idx.capture("search", imageRef)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	entries := idx.collections[collection]
	results := make([]domain.SimilarityResult, 0, len(entries))
	for _, e := range entries {
		score := floats.Dot(probe, e.vector)
		results = append(results, domain.SimilarityResult{
			FaceID:     e.faceID,
			SubjectID:  e.subjectID,
			Score:      score,
			Confidence: score,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (idx *Index) capture(op, imageRef string) ([]float64, error) {
	idx.mu.RLock()
	c, ok := idx.captures[imageRef]
	idx.mu.RUnlock()
	if !ok {
		return nil, provider.NewError(provider.ErrorNoFaceDetected, op, "no capture registered for image ref", nil)
	}
	return c.vector, nil
}

func (idx *Index) removeLocked(collection, faceID string) {
	entries := idx.collections[collection]
	for i, e := range entries {
		if e.faceID == faceID {
			idx.collections[collection] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// normalize returns a unit-norm copy of v, or nil for a zero vector.
func normalize(v []float64) []float64 {
	if len(v) == 0 {
		return nil
	}
	norm := floats.Norm(v, 2)
	if norm == 0 {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	floats.Scale(1/norm, out)
	return out
}
