package clustering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultEmbeddingEndpoint       = "https://api.openai.com/v1/embeddings"
	DefaultEmbeddingModel          = "text-embedding-ada-002"
	DefaultEmbeddingRequestTimeout = 30 * time.Second

	embedMaxAttempts      = 3
	embedRetryBackoffBase = 500 * time.Millisecond
)

// ErrEmbeddingUnavailable marks failures that should flip the caller to
// the rule-based clustering path instead of aborting the batch: missing
// credentials, unreachable endpoint, exhausted retries.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// ErrEmbeddingTransient marks a single failed attempt that is worth
// retrying. Exhausting all attempts converts it to
// ErrEmbeddingUnavailable.
var ErrEmbeddingTransient = errors.New("embedding transient failure")

type EmbedderConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	// Dimensions, when positive, rejects response vectors of any other
	// length. Zero accepts whatever the provider returns, as long as
	// every vector in a batch agrees.
	Dimensions     int
	RequestTimeout time.Duration
}

// Embedder fetches keyword vectors over HTTP. Identical keyword batches
// requested concurrently are coalesced through singleflight, and
// resolved batches are cached for the lifetime of the Embedder (one
// scheduler batch).
type Embedder struct {
	config EmbedderConfig
	client *http.Client

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string][]float64
}

type embedRequest struct {
	Input []string `json:"input,omitempty"`
	Texts []string `json:"texts,omitempty"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewEmbedder(config EmbedderConfig) *Embedder {
	normalized := config
	if strings.TrimSpace(normalized.Endpoint) == "" {
		normalized.Endpoint = DefaultEmbeddingEndpoint
	}
	if strings.TrimSpace(normalized.Model) == "" {
		normalized.Model = DefaultEmbeddingModel
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultEmbeddingRequestTimeout
	}
	return &Embedder{
		config: normalized,
		client: &http.Client{},
		cache:  make(map[string][]float64),
	}
}

// Configured reports whether the embedder has credentials. Endpoints on
// localhost are allowed without a key so self-hosted embedding services
// keep working.
func (e *Embedder) Configured() bool {
	if e == nil {
		return false
	}
	if strings.TrimSpace(e.config.APIKey) != "" {
		return true
	}
	parsed, err := url.Parse(e.config.Endpoint)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// Embed returns one vector per keyword, in input order. Vectors for
// keywords already resolved this batch come from the cache; the rest
// are fetched in one request. Retries on transient failures; a
// still-failing batch wraps ErrEmbeddingUnavailable.
func (e *Embedder) Embed(ctx context.Context, keywords []string) ([][]float64, error) {
	if e == nil {
		return nil, ErrEmbeddingUnavailable
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	if !e.Configured() {
		return nil, fmt.Errorf("%w: no API key configured", ErrEmbeddingUnavailable)
	}

	missing := e.missingKeywords(keywords)
	if len(missing) > 0 {
		// Coalesce concurrent requests for the same missing set.
		_, err, _ := e.group.Do(batchKey(missing), func() (any, error) {
			vectors, err := e.requestWithRetry(ctx, missing)
			if err != nil {
				return nil, err
			}
			e.mu.Lock()
			for i, keyword := range missing {
				e.cache[keyword] = vectors[i]
			}
			e.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][]float64, len(keywords))
	for i, keyword := range keywords {
		vector, ok := e.cache[keyword]
		if !ok {
			return nil, fmt.Errorf("%w: no vector for keyword %q", ErrEmbeddingUnavailable, keyword)
		}
		out[i] = vector
	}
	return out, nil
}

func (e *Embedder) missingKeywords(keywords []string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	missing := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		if _, ok := e.cache[keyword]; ok {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}
		missing = append(missing, keyword)
	}
	return missing
}

func (e *Embedder) requestWithRetry(ctx context.Context, keywords []string) ([][]float64, error) {
	var lastErr error
	for attempt := 1; attempt <= embedMaxAttempts; attempt++ {
		vectors, retryable, err := e.request(ctx, keywords)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt == embedMaxAttempts {
			break
		}

		backoff := embedRetryBackoffBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}

// request performs one HTTP round trip. The second return value reports
// whether the failure is worth retrying.
func (e *Embedder) request(ctx context.Context, keywords []string) ([][]float64, bool, error) {
	payload := embedRequest{Texts: keywords}
	if strings.HasSuffix(e.config.Endpoint, "/v1/embeddings") {
		payload = embedRequest{Input: keywords, Model: e.config.Model}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, e.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(e.config.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: request failed: %v", ErrEmbeddingTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrEmbeddingTransient, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: status %d: %s", ErrEmbeddingTransient, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) != len(keywords) {
		return nil, false, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(keywords), len(vectors))
	}
	for i, vector := range vectors {
		if e.config.Dimensions > 0 && len(vector) != e.config.Dimensions {
			return nil, false, fmt.Errorf("embedding vector %d has dimension %d, want %d", i, len(vector), e.config.Dimensions)
		}
		if len(vector) != len(vectors[0]) {
			return nil, false, fmt.Errorf("embedding vector %d has dimension %d, want %d", i, len(vector), len(vectors[0]))
		}
		for _, value := range vector {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, false, fmt.Errorf("embedding vector %d has non-finite value", i)
			}
		}
	}

	return vectors, false, nil
}

func batchKey(keywords []string) string {
	sorted := make([]string, len(keywords))
	copy(sorted, keywords)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}
