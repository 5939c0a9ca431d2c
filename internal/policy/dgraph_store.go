package policy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quantumflow/finassist/internal/models"
)

const dgraphSchema = `
	type PolicyChunk {
		chunk.id
		chunk.ordinal
		chunk.text
		chunk.source
		chunk.embedding
	}

	chunk.id: string @index(exact) @upsert .
	chunk.ordinal: int @index(int) .
	chunk.text: string @index(fulltext) .
	chunk.source: string @index(exact) .
	chunk.embedding: string .
`

// DgraphChunkStore keeps chunks as PolicyChunk nodes in Dgraph
type DgraphChunkStore struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

type dgraphChunk struct {
	UID       string   `json:"uid,omitempty"`
	ID        string   `json:"chunk.id"`
	Ordinal   int64    `json:"chunk.ordinal"`
	Text      string   `json:"chunk.text"`
	Source    string   `json:"chunk.source"`
	Embedding string   `json:"chunk.embedding"`
	DType     []string `json:"dgraph.type,omitempty"`
}

// NewDgraphChunkStore connects to a Dgraph alpha and installs the schema
func NewDgraphChunkStore(ctx context.Context, config *Config) (*DgraphChunkStore, error) {
	conn, err := grpc.NewClient(config.DgraphAlphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	store := &DgraphChunkStore{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}

	if err := store.client.Alter(ctx, &api.Operation{Schema: dgraphSchema}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Append commits all chunks in a single mutation
func (s *DgraphChunkStore) Append(ctx context.Context, chunks []models.Chunk) error {
	nodes := make([]dgraphChunk, len(chunks))
	for i, c := range chunks {
		nodes[i] = dgraphChunk{
			ID:        c.ID,
			Ordinal:   c.Ordinal,
			Text:      c.Text,
			Source:    c.Source,
			Embedding: base64.StdEncoding.EncodeToString(serializeEmbedding(c.Embedding)),
			DType:     []string{"PolicyChunk"},
		}
	}

	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal chunks: %w", err)
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: data, CommitNow: true}); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// All reads every chunk ordered by ordinal
func (s *DgraphChunkStore) All(ctx context.Context) ([]models.Chunk, error) {
	query := `{
		chunks(func: type(PolicyChunk), orderasc: chunk.ordinal) {
			chunk.id
			chunk.ordinal
			chunk.text
			chunk.source
			chunk.embedding
		}
	}`

	resp, err := s.client.NewReadOnlyTxn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	var result struct {
		Chunks []dgraphChunk `json:"chunks"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(result.Chunks))
	for _, n := range result.Chunks {
		raw, err := base64.StdEncoding.DecodeString(n.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s has a bad embedding: %w", n.ID, err)
		}
		chunks = append(chunks, models.Chunk{
			ID:        n.ID,
			Ordinal:   n.Ordinal,
			Text:      n.Text,
			Source:    n.Source,
			Embedding: deserializeEmbedding(raw),
		})
	}
	return chunks, nil
}

// Count returns the number of PolicyChunk nodes
func (s *DgraphChunkStore) Count(ctx context.Context) (int, error) {
	resp, err := s.client.NewReadOnlyTxn().Query(ctx, `{ total(func: type(PolicyChunk)) { count(uid) } }`)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	var result struct {
		Total []struct {
			Count int `json:"count"`
		} `json:"total"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return 0, fmt.Errorf("failed to decode count: %w", err)
	}
	if len(result.Total) == 0 {
		return 0, nil
	}
	return result.Total[0].Count, nil
}

// Close closes the gRPC connection
func (s *DgraphChunkStore) Close() error {
	return s.conn.Close()
}
