package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
		case "/api/embed":
			var req OllamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			inputs, ok := req.Input.([]any)
			require.True(t, ok)

			embeddings := make([][]float32, len(inputs))
			for i := range inputs {
				vec := make([]float32, dims)
				vec[i%dims] = 1
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(OllamaEmbedResponse{
				Model:      req.Model,
				Embeddings: embeddings,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOllamaEmbedderEmbed(t *testing.T) {
	srv := newFakeOllama(t, 8)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "test-model",
	})
	require.NoError(t, err)
	defer e.Close()

	// Dimensions auto-detected from the probe embedding.
	assert.Equal(t, 8, e.Dimensions())

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestOllamaEmbedderBatch(t *testing.T) {
	srv := newFakeOllama(t, 4)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "test-model",
		Dimensions:      4,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Empty input gets a zero vector without an API call.
	assert.Equal(t, make([]float32, 4), vecs[1])
	assert.Len(t, vecs[0], 4)
}

func TestOllamaEmbedderUnreachable(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  "http://127.0.0.1:1",
		Model: "test-model",
	})
	assert.Error(t, err)
}

func TestOllamaEmbedderEmptyInput(t *testing.T) {
	srv := newFakeOllama(t, 4)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Dimensions:      4,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)
}
