package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Static errors for the HTTP dubbing provider client.
var (
	ErrAPIKeyRequired = errors.New("collaborators: dubbing provider API key is required")
	ErrServerError    = errors.New("collaborators: dubbing provider server error")
	ErrRateLimited    = errors.New("collaborators: dubbing provider rate limited")
	ErrRequestFailed  = errors.New("collaborators: dubbing provider request failed")
)

// HTTPDubbingProvider implements DubbingProvider over a REST API, grounded
// on runpod.HTTPClient: bearer auth, JSON envelopes, and a hand-rolled
// exponential backoff retry loop around a single request.
type HTTPDubbingProvider struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// DubbingProviderOption configures an HTTPDubbingProvider.
type DubbingProviderOption func(*HTTPDubbingProvider)

func WithDubbingHTTPClient(c *http.Client) DubbingProviderOption {
	return func(p *HTTPDubbingProvider) { p.httpClient = c }
}

func WithDubbingMaxRetries(n int) DubbingProviderOption {
	return func(p *HTTPDubbingProvider) { p.maxRetries = n }
}

func WithDubbingBaseBackoff(d time.Duration) DubbingProviderOption {
	return func(p *HTTPDubbingProvider) { p.baseBackoff = d }
}

// NewHTTPDubbingProvider creates a new HTTP-backed DubbingProvider.
func NewHTTPDubbingProvider(baseURL, apiKey string, opts ...DubbingProviderOption) (*HTTPDubbingProvider, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	p := &HTTPDubbingProvider{
		apiKey:      apiKey,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type createDubRequest struct {
	SourceURLOrFile string `json:"sourceUrlOrFile"`
	TargetLanguage  string `json:"targetLanguage"`
	SourceLanguage  string `json:"sourceLanguage,omitempty"`
	UseWatermark    bool   `json:"useWatermark"`
	NumSpeakers     int    `json:"numSpeakers,omitempty"`
}

type createDubResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type statusResponse struct {
	State        string `json:"state"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Progress     int    `json:"progress,omitempty"`
}

// Create submits a new dubbing job and returns its opaque provider job id.
func (p *HTTPDubbingProvider) Create(ctx context.Context, params CreateDubParams) (string, error) {
	body, err := json.Marshal(createDubRequest{
		SourceURLOrFile: params.SourceURLOrFile,
		TargetLanguage:  params.TargetLanguage,
		SourceLanguage:  params.SourceLanguage,
		UseWatermark:    params.UseWatermark,
		NumSpeakers:     params.NumSpeakers,
	})
	if err != nil {
		return "", fmt.Errorf("collaborators: marshal create request: %w", err)
	}

	var resp createDubResponse
	if err := p.doRequestWithRetry(ctx, http.MethodPost, p.baseURL+"/dub", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("collaborators: provider returned no job id: %s", resp.Error)
	}
	return resp.ID, nil
}

// Status polls the provider for the current state of providerJobID.
func (p *HTTPDubbingProvider) Status(ctx context.Context, providerJobID string) (DubbingStatus, error) {
	url := fmt.Sprintf("%s/dub/%s/status", p.baseURL, providerJobID)

	var resp statusResponse
	if err := p.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return DubbingStatus{}, err
	}

	var state DubbingState
	switch resp.State {
	case "dubbing", "in_progress", "running":
		state = DubbingInProgress
	case "dubbed", "completed":
		state = DubbingDone
	case "failed":
		state = DubbingFailed
	default:
		state = DubbingState(resp.State)
	}

	return DubbingStatus{State: state, ErrorMessage: resp.ErrorMessage, Progress: resp.Progress}, nil
}

// Download retrieves the dubbed audio bytes for a completed provider job.
func (p *HTTPDubbingProvider) Download(ctx context.Context, providerJobID, targetLanguage string) (io.ReadCloser, string, error) {
	url := fmt.Sprintf("%s/dub/%s/download?lang=%s", p.baseURL, providerJobID, targetLanguage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("collaborators: build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("collaborators: download request failed: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, "", ErrProviderJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(payload))
	}

	return resp.Body, "mp3", nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff
// retry, mirroring runpod.HTTPClient.doRequestWithRetry.
func (p *HTTPDubbingProvider) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := p.baseBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("collaborators: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}
		if !isRetryableDubError(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("collaborators: max retries exceeded: %w", lastErr)
}

func (p *HTTPDubbingProvider) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("collaborators: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &retryableDubError{err: fmt.Errorf("collaborators: request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableDubError{err: fmt.Errorf("collaborators: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableDubError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableDubError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("collaborators: unmarshal response: %w", err)
		}
	}
	return nil
}

type retryableDubError struct{ err error }

func (e *retryableDubError) Error() string { return e.err.Error() }
func (e *retryableDubError) Unwrap() error { return e.err }

func isRetryableDubError(err error) bool {
	var re *retryableDubError
	return errors.As(err, &re)
}

var _ DubbingProvider = (*HTTPDubbingProvider)(nil)
