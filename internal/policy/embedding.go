package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// EmbeddingGenerator turns text into vectors
type EmbeddingGenerator interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HTTPEmbedding calls a sentence-transformers style HTTP service (POST /embed)
type HTTPEmbedding struct {
	apiURL     string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewHTTPEmbedding creates an embedding generator backed by an HTTP service
func NewHTTPEmbedding(apiURL, model string, dimensions int, timeout time.Duration) *HTTPEmbedding {
	return &HTTPEmbedding{
		apiURL:     strings.TrimRight(apiURL, "/"),
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate creates an embedding vector for text
func (e *HTTPEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return embeddings[0], nil
}

// GenerateBatch creates embeddings for multiple texts
func (e *HTTPEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"inputs": texts,
		"model":  e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(result), len(texts))
	}

	return result, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *HTTPEmbedding) Dimensions() int {
	return e.dimensions
}

// SimpleEmbedding is a local hashed bag-of-words embedding.
// Used when no embedding service is configured.
type SimpleEmbedding struct {
	dimensions int
}

// NewSimpleEmbedding creates a hash-based embedding generator
func NewSimpleEmbedding(dimensions int) *SimpleEmbedding {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &SimpleEmbedding{dimensions: dimensions}
}

// Generate creates a hash-based embedding
func (e *SimpleEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	words := tokenize(text)
	embedding := make([]float32, e.dimensions)

	for i, word := range words {
		hash := simpleHash(word)
		// Earlier words weigh slightly more
		weight := float32(1.0 / (1.0 + float64(i)/float64(len(words))))
		embedding[hash%uint32(e.dimensions)] += weight
		embedding[(hash/7)%uint32(e.dimensions)] += weight / 2
	}

	var magnitude float64
	for _, val := range embedding {
		magnitude += float64(val * val)
	}
	magnitude = math.Sqrt(magnitude)

	if magnitude > 0 {
		for i := range embedding {
			embedding[i] = float32(float64(embedding[i]) / magnitude)
		}
	}

	return embedding, nil
}

// GenerateBatch creates embeddings for multiple texts
func (e *SimpleEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = emb
	}
	return result, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *SimpleEmbedding) Dimensions() int {
	return e.dimensions
}

// tokenize lowercases text and splits it on anything that is not a letter or digit
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}

// simpleHash computes a simple hash for a string
func simpleHash(s string) uint32 {
	hash := uint32(0)
	for _, c := range s {
		hash = hash*31 + uint32(c)
	}
	return hash
}

// cosine returns the cosine similarity of two vectors, 0 when either is empty or they differ in length
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
