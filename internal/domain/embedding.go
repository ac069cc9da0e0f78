package domain

import "time"

// Embedding is a fixed-length face vector with its provider-assigned
// identifier. Immutable once produced; enrolled embeddings belong to a
// Visitor or WatchlistEntry, capture-time embeddings belong transiently to
// the verification request that produced them.
type Embedding struct {
	FaceID     string
	Vector     []float64
	CapturedAt time.Time
}

// SimilarityResult is one candidate returned by the embedding provider:
// how closely the captured face matches the candidate's enrolled embedding.
type SimilarityResult struct {
	FaceID     string
	SubjectID  string
	Score      float64
	Confidence float64
}
