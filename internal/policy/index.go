package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantumflow/finassist/internal/models"
)

// ChunkStore persists chunks in insertion order
type ChunkStore interface {
	Append(ctx context.Context, chunks []models.Chunk) error
	All(ctx context.Context) ([]models.Chunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Searcher answers top-k similarity queries
type Searcher interface {
	Search(ctx context.Context, query string, k int) (models.RetrievalResult, error)
}

// Config holds the policy index configuration
type Config struct {
	Backend             string        // memory, badger, redis, dgraph
	EmbeddingDimensions int           // Default: 384
	EmbeddingURL        string        // Empty selects the local hashed embedding
	EmbeddingModel      string        // Sent to the embedding service
	EmbeddingTimeout    time.Duration // Default: 30s
	BadgerPath          string        // Default: ~/.finassist/policy
	RedisURL            string        // Default: localhost:6379
	RedisPassword       string
	RedisDB             int
	RedisPrefix         string // Default: policy:
	DgraphAlphaURL      string // Default: localhost:9080
	CacheTTL            time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend:             "badger",
		EmbeddingDimensions: 384,
		EmbeddingModel:      "sentence-transformers/all-MiniLM-L6-v2",
		EmbeddingTimeout:    30 * time.Second,
		BadgerPath:          "~/.finassist/policy",
		RedisURL:            "localhost:6379",
		RedisPrefix:         "policy:",
		DgraphAlphaURL:      "localhost:9080",
		CacheTTL:            0,
	}
}

// Index ranks stored chunks against a query embedding.
// Chunks are read once when the index is opened; searches never touch the backend.
type Index struct {
	store    ChunkStore
	embedder EmbeddingGenerator

	mu     sync.RWMutex
	chunks []models.Chunk
}

// NewIndex loads every chunk from store and returns a searchable index
func NewIndex(ctx context.Context, store ChunkStore, embedder EmbeddingGenerator) (*Index, error) {
	chunks, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy chunks: %w", err)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })

	return &Index{store: store, embedder: embedder, chunks: chunks}, nil
}

// Open builds the configured embedding generator and chunk store, then loads the index
func Open(ctx context.Context, config *Config) (*Index, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var embedder EmbeddingGenerator
	if config.EmbeddingURL != "" {
		embedder = NewHTTPEmbedding(config.EmbeddingURL, config.EmbeddingModel, config.EmbeddingDimensions, config.EmbeddingTimeout)
	} else {
		embedder = NewSimpleEmbedding(config.EmbeddingDimensions)
	}

	var (
		store ChunkStore
		err   error
	)
	switch config.Backend {
	case "", "memory":
		store = NewMemoryChunkStore()
	case "badger":
		store, err = NewBadgerChunkStore(config.BadgerPath)
	case "redis":
		store, err = NewRedisChunkStore(ctx, config)
	case "dgraph":
		store, err = NewDgraphChunkStore(ctx, config)
	default:
		return nil, fmt.Errorf("unknown index backend %q", config.Backend)
	}
	if err != nil {
		return nil, err
	}

	index, err := NewIndex(ctx, store, embedder)
	if err != nil {
		store.Close()
		return nil, err
	}
	return index, nil
}

// contentKey identifies a chunk by what it says and where it came from
type contentKey struct {
	source string
	text   string
}

func keyOf(c models.Chunk) contentKey {
	return contentKey{source: c.Source, text: c.Text}
}

// Add embeds and persists the chunks not already in the index. A chunk is already present
// when a stored chunk has the same source and text, so ingesting a directory twice is a no-op.
// Ids and ordinals continue after the existing chunks. It returns the number of chunks added.
func (ix *Index) Add(ctx context.Context, chunks []models.Chunk) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	seen := make(map[contentKey]bool, len(ix.chunks)+len(chunks))
	for _, c := range ix.chunks {
		seen[keyOf(c)] = true
	}
	var fresh []models.Chunk
	for _, c := range chunks {
		k := keyOf(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	var missing []string
	for _, c := range fresh {
		if len(c.Embedding) == 0 {
			missing = append(missing, c.Text)
		}
	}
	var vectors [][]float32
	if len(missing) > 0 {
		var err error
		vectors, err = ix.embedder.GenerateBatch(ctx, missing)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
	}

	next := int64(len(ix.chunks))
	for i := range fresh {
		if len(fresh[i].Embedding) == 0 {
			fresh[i].Embedding, vectors = vectors[0], vectors[1:]
		}
		fresh[i].Ordinal = next + int64(i)
		if fresh[i].ID == "" {
			fresh[i].ID = fmt.Sprintf("id_%d", fresh[i].Ordinal)
		}
	}

	if err := ix.store.Append(ctx, fresh); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	ix.chunks = append(ix.chunks, fresh...)
	return len(fresh), nil
}

// absent returns the chunks whose source and text are not in the index yet
func (ix *Index) absent(chunks []models.Chunk) []models.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	have := make(map[contentKey]bool, len(ix.chunks))
	for _, c := range ix.chunks {
		have[keyOf(c)] = true
	}
	out := chunks[:0:0]
	for _, c := range chunks {
		if !have[keyOf(c)] {
			out = append(out, c)
		}
	}
	return out
}

// Search returns at most k chunks by descending cosine similarity; equal scores keep insertion order
func (ix *Index) Search(ctx context.Context, query string, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		return models.RetrievalResult{}, nil
	}

	ix.mu.RLock()
	chunks := ix.chunks
	ix.mu.RUnlock()

	if len(chunks) == 0 {
		return models.RetrievalResult{}, nil
	}

	vec, err := ix.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return rank(chunks, vec, k), nil
}

// Len returns the number of loaded chunks
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Close releases the backing store
func (ix *Index) Close() error {
	return ix.store.Close()
}

// rank expects chunks in insertion order
func rank(chunks []models.Chunk, query []float32, k int) models.RetrievalResult {
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(chunks))
	for i, c := range chunks {
		scores[i] = scored{idx: i, score: cosine(query, c.Embedding)}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].score > scores[b].score })

	if len(scores) > k {
		scores = scores[:k]
	}
	result := make(models.RetrievalResult, len(scores))
	for i, s := range scores {
		c := chunks[s.idx]
		result[i] = models.RetrievedChunk{Text: c.Text, Source: c.Source, Score: s.score}
	}
	return result
}
