// Package provider wraps the face embedding provider behind the engine's
// closed error taxonomy and retry policy. The provider is treated as an
// untrusted, latency-variable black box: the adapter enforces the timeout,
// retries transient failures with exponential backoff, trips a circuit
// breaker on sustained outage, and maps every provider error onto the
// categories in errors.go before anything propagates upward.
package provider

import (
	"context"

	"gatewarden/internal/domain"
)

// Collection names the enrollment sets a capture can be searched against.
const (
	CollectionVisitors  = "visitors"
	CollectionWatchlist = "watchlist"
)

// Provider is the raw embedding provider contract. Implementations may be
// remote (HTTP) or in-process (the local cosine index); either way they
// return errors from this package's taxonomy.
type Provider interface {
	// Verify compares the captured image against a single named target and
	// returns the similarity result for that target.
	Verify(ctx context.Context, imageRef string, targetFaceID string) (domain.SimilarityResult, error)

	// Search compares the captured image against a collection and returns
	// candidates in descending score order.
	Search(ctx context.Context, imageRef string, collection string) ([]domain.SimilarityResult, error)
}
