package collaborators

import (
	"context"
	"fmt"
	"net/http"
	"path"
)

// HTTPSourceResolver resolves a sourceRef that is itself a fetchable URL by
// issuing a HEAD request and reading back content metadata. Built in the
// same HTTP-client idiom as runpod.HTTPClient, scaled down to the single
// HEAD call this contract needs.
type HTTPSourceResolver struct {
	httpClient *http.Client
}

// NewHTTPSourceResolver creates a resolver using the given HTTP client, or
// http.DefaultClient if nil.
func NewHTTPSourceResolver(client *http.Client) *HTTPSourceResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSourceResolver{httpClient: client}
}

// Resolve issues a HEAD request against sourceRef and reports what it
// learns. Duration/resolution/codec are not discoverable without reading
// the body, so they are left zero-valued here; the pipeline executor
// copies them into the job's source metadata as they are, without probing
// the downloaded file.
func (r *HTTPSourceResolver) Resolve(ctx context.Context, sourceRef string) (ResolvedSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceRef, nil)
	if err != nil {
		return ResolvedSource{}, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ResolvedSource{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResolvedSource{}, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var contentLength *int64
	if resp.ContentLength >= 0 {
		cl := resp.ContentLength
		contentLength = &cl
	}

	return ResolvedSource{
		DownloadURL:    sourceRef,
		ContentLength:  contentLength,
		ContentType:    resp.Header.Get("Content-Type"),
		SuggestedTitle: path.Base(sourceRef),
	}, nil
}

var _ SourceResolver = (*HTTPSourceResolver)(nil)
