package clustering

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newEmbedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeVectors(t *testing.T, w http.ResponseWriter, vectors [][]float64) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors}); err != nil {
		t.Errorf("encode embedding response: %v", err)
	}
}

func TestEmbedderReturnsVectorsInOrder(t *testing.T) {
	t.Parallel()

	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		vectors := make([][]float64, len(payload.Texts))
		for i := range vectors {
			vectors[i] = []float64{float64(i), 1}
		}
		writeVectors(t, w, vectors)
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	vectors, err := embedder.Embed(context.Background(), []string{"apple", "tesla", "bitcoin"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	if vectors[2][0] != 2 {
		t.Fatalf("expected input-order vectors, got %v", vectors)
	}
}

func TestEmbedderRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeVectors(t, w, [][]float64{{1, 0}})
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	if _, err := embedder.Embed(context.Background(), []string{"apple"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestEmbedderDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	if _, err := embedder.Embed(context.Background(), []string{"apple"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestEmbedderExhaustedRetriesWrapUnavailable(t *testing.T) {
	t.Parallel()

	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL, RequestTimeout: time.Second})
	_, err := embedder.Embed(context.Background(), []string{"apple"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbedderUnconfigured(t *testing.T) {
	t.Parallel()

	embedder := NewEmbedder(EmbedderConfig{Endpoint: "https://api.openai.com/v1/embeddings"})
	if embedder.Configured() {
		t.Fatal("expected remote endpoint without key to be unconfigured")
	}
	_, err := embedder.Embed(context.Background(), []string{"apple"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbedderRejectsWrongDimension(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeVectors(t, w, [][]float64{{1, 0}})
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL, Dimensions: 3})
	if _, err := embedder.Embed(context.Background(), []string{"apple"}); err == nil {
		t.Fatal("expected error for 2-dimensional vector with Dimensions=3")
	}
	// Wrong dimensions come from a misconfigured model, not a blip.
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestEmbedderRejectsRaggedVectors(t *testing.T) {
	t.Parallel()

	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeVectors(t, w, [][]float64{{1, 0}, {0, 1, 0}})
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	if _, err := embedder.Embed(context.Background(), []string{"apple", "tesla"}); err == nil {
		t.Fatal("expected error for vectors of differing length")
	}
}

func TestEmbedderCachesIdenticalBatches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeVectors(t, w, [][]float64{{1, 0}, {0, 1}})
	})

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := embedder.Embed(ctx, []string{"apple", "tesla"}); err != nil {
			t.Fatalf("embed: %v", err)
		}
	}
	// Same set in a different order hits the same cache entry.
	if _, err := embedder.Embed(ctx, []string{"tesla", "apple"}); err != nil {
		t.Fatalf("embed reordered batch: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}
