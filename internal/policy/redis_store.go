package policy

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quantumflow/finassist/internal/models"
)

// RedisChunkStore keeps chunks as Redis hashes plus a list that records insertion order
type RedisChunkStore struct {
	client *redis.Client
	prefix string
}

// NewRedisChunkStore connects to Redis and verifies the connection
func NewRedisChunkStore(ctx context.Context, config *Config) (*RedisChunkStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisURL,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisChunkStoreFromClient(client, config.RedisPrefix), nil
}

// NewRedisChunkStoreFromClient wraps an existing client
func NewRedisChunkStoreFromClient(client *redis.Client, prefix string) *RedisChunkStore {
	if prefix == "" {
		prefix = "policy:"
	}
	return &RedisChunkStore{client: client, prefix: prefix}
}

func (s *RedisChunkStore) orderKey() string {
	return s.prefix + "chunks"
}

func (s *RedisChunkStore) chunkKey(ordinal int64) string {
	return fmt.Sprintf("%schunk:%d", s.prefix, ordinal)
}

// Append stores each chunk hash and pushes its key onto the order list in one pipeline
func (s *RedisChunkStore) Append(ctx context.Context, chunks []models.Chunk) error {
	pipe := s.client.TxPipeline()
	for _, c := range chunks {
		key := s.chunkKey(c.Ordinal)
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":        c.ID,
			"text":      c.Text,
			"source":    c.Source,
			"ordinal":   c.Ordinal,
			"embedding": serializeEmbedding(c.Embedding),
		})
		pipe.RPush(ctx, s.orderKey(), key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// All loads every chunk in list order
func (s *RedisChunkStore) All(ctx context.Context) ([]models.Chunk, error) {
	keys, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			return nil, fmt.Errorf("chunk %s is listed but missing", keys[i])
		}
		ordinal, err := strconv.ParseInt(fields["ordinal"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk %s has a bad ordinal: %w", keys[i], err)
		}
		chunks = append(chunks, models.Chunk{
			ID:        fields["id"],
			Text:      fields["text"],
			Source:    fields["source"],
			Ordinal:   ordinal,
			Embedding: deserializeEmbedding([]byte(fields["embedding"])),
		})
	}
	return chunks, nil
}

// Count returns the length of the order list
func (s *RedisChunkStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.orderKey()).Result()
	return int(n), err
}

// Close closes the client
func (s *RedisChunkStore) Close() error {
	return s.client.Close()
}

// serializeEmbedding packs a vector as little-endian float32 bytes, the layout RediSearch expects
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}
