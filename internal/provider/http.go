package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"gatewarden/internal/domain"
)

// HTTPProvider talks to a remote embedding service over its JSON API. All
// response codes are translated to the adapter taxonomy here; callers never
// see HTTP status semantics.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider builds a provider client. The http.Client carries no
// timeout of its own; the adapter's per-attempt context bounds each call.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type verifyRequest struct {
	ImageRef     string `json:"image_ref"`
	TargetFaceID string `json:"target_face_id"`
}

type searchRequest struct {
	ImageRef   string `json:"image_ref"`
	Collection string `json:"collection"`
}

type matchPayload struct {
	FaceID     string  `json:"face_id"`
	SubjectID  string  `json:"subject_id"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

type providerResponse struct {
	Matches []matchPayload `json:"matches"`
	Error   string         `json:"error,omitempty"`
}

func (p *HTTPProvider) Verify(ctx context.Context, imageRef, targetFaceID string) (domain.SimilarityResult, error) {
	resp, err := p.post(ctx, "verify", "/v1/verify", verifyRequest{
		ImageRef:     imageRef,
		TargetFaceID: targetFaceID,
	})
	if err != nil {
		return domain.SimilarityResult{}, err
	}
	if len(resp.Matches) == 0 {
		return domain.SimilarityResult{}, NewError(ErrorNotFound, "verify", "target returned no result", nil)
	}
	return toResult(resp.Matches[0]), nil
}

func (p *HTTPProvider) Search(ctx context.Context, imageRef, collection string) ([]domain.SimilarityResult, error) {
	resp, err := p.post(ctx, "search", "/v1/search", searchRequest{
		ImageRef:   imageRef,
		Collection: collection,
	})
	if err != nil {
		return nil, err
	}
	results := make([]domain.SimilarityResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		results = append(results, toResult(m))
	}
	return results, nil
}

func (p *HTTPProvider) post(ctx context.Context, op, path string, body any) (*providerResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(ErrorInternal, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(ErrorInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer httpResp.Body.Close()

	var resp providerResponse
	if decodeErr := json.NewDecoder(httpResp.Body).Decode(&resp); decodeErr != nil && httpResp.StatusCode == http.StatusOK {
		return nil, NewError(ErrorInternal, op, "decode response", decodeErr)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return &resp, nil
	case httpResp.StatusCode == http.StatusUnprocessableEntity:
		// The provider's code for an image with no detectable face.
		return nil, NewError(ErrorNoFaceDetected, op, "no face detected", nil)
	case httpResp.StatusCode == http.StatusNotFound:
		return nil, NewError(ErrorNotFound, op, "unknown target or collection", nil)
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, NewError(ErrorUnavailable, op, fmt.Sprintf("provider returned %d", httpResp.StatusCode), nil)
	default:
		return nil, NewError(ErrorInternal, op, fmt.Sprintf("unexpected status %d: %s", httpResp.StatusCode, resp.Error), nil)
	}
}

func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ErrorUnavailable, op, "provider timeout", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(ErrorUnavailable, op, "provider timeout", err)
	}
	return NewError(ErrorUnavailable, op, "transport failure", err)
}

func toResult(m matchPayload) domain.SimilarityResult {
	return domain.SimilarityResult{
		FaceID:     m.FaceID,
		SubjectID:  m.SubjectID,
		Score:      m.Score,
		Confidence: m.Confidence,
	}
}
