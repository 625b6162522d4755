package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func unitVec(dim int, seed float64) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		v[i] = float32(math.Sin(seed + float64(i)))
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func fakeSidecar(t *testing.T, dim int, batches *[][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if batches != nil {
			*batches = append(*batches, req.Texts)
		}

		vecs := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			vecs[i] = unitVec(dim, float64(i))
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}))
}

func TestEmbedTextsBatches(t *testing.T) {
	var batches [][]string
	srv := fakeSidecar(t, 4, &batches)
	defer srv.Close()

	c := New(srv.URL, 4, 2, zap.NewNop())
	vecs, err := c.EmbedTexts(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// 5 texts with batch size 2 → 2+2+1.
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])

	for _, v := range vecs {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	}
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	c := New("http://unused", 4, 8, zap.NewNop())
	vecs, err := c.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedQuery(t *testing.T) {
	srv := fakeSidecar(t, 4, nil)
	defer srv.Close()

	c := New(srv.URL, 4, 8, zap.NewNop())
	v, err := c.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 4)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := fakeSidecar(t, 3, nil)
	defer srv.Close()

	c := New(srv.URL, 4, 8, zap.NewNop())
	_, err := c.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension 3")
}

func TestEmbedRejectsUnnormalizedVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.5, 0.5, 0.5, 0.5}, {1, 1, 0, 0}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 4, 8, zap.NewNop())
	_, err := c.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	// The first vector is unit-norm; only the second one trips the check.
	assert.Contains(t, err.Error(), "vector 1 has norm")
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 8, zap.NewNop())
	_, err := c.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 vectors for 2 texts")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, 4, 8, zap.NewNop())
	_, err := c.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
