package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client talks to the embedding sidecar. Texts are embedded in batches so
// one oversized request cannot stall the sidecar.
type Client struct {
	Endpoint  string
	Dim       int
	BatchSize int

	http   *http.Client
	logger *zap.Logger
}

// normTolerance bounds |L2 norm - 1| for every returned vector.
const normTolerance = 1e-4

// New builds a client for the sidecar at endpoint, expecting dim-sized
// vectors and sending batchSize texts per request.
func New(endpoint string, dim, batchSize int, logger *zap.Logger) *Client {
	if batchSize <= 0 {
		batchSize = 8
	}
	return &Client{
		Endpoint:  endpoint,
		Dim:       dim,
		BatchSize: batchSize,
		http:      &http.Client{Timeout: 120 * time.Second},
		logger:    logger,
	}
}

var (
	sharedOnce sync.Once
	shared     *Client
)

// Shared returns the process-wide client, creating it on first use. Worker
// actors share one client so the HTTP connection pool is reused.
func Shared(endpoint string, dim, batchSize int, logger *zap.Logger) *Client {
	sharedOnce.Do(func() {
		shared = New(endpoint, dim, batchSize, logger)
	})
	return shared
}

// EmbedTexts returns one vector per input text, preserving order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.BatchSize {
		end := start + c.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d..%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder returned %d: %s", resp.StatusCode, msg)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedder response: %w", err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts",
			len(parsed.Embeddings), len(texts))
	}
	for i, v := range parsed.Embeddings {
		if c.Dim > 0 && len(v) != c.Dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), c.Dim)
		}
		var sq float64
		for _, x := range v {
			sq += float64(x) * float64(x)
		}
		// Cosine distance assumes normalized vectors; a sidecar serving an
		// unnormalized model would silently corrupt every ranking.
		if n := math.Sqrt(sq); math.Abs(n-1) > normTolerance {
			return nil, fmt.Errorf("vector %d has norm %.6f, want 1", i, n)
		}
	}

	return parsed.Embeddings, nil
}
