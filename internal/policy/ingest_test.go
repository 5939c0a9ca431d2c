package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/finassist/internal/logging"
)

func testLogger() *slog.Logger {
	return logging.NewNop()
}

// writeDocs creates two policy files and one file that must be ignored; 4 chunks total
func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"aml_policy.txt":   "  Flag transfers above 10000 EUR.\n\nVerify the source of funds.\n",
		"card_limits.txt":  "Daily card limit is 2000 EUR.\n   \nCross-border fees are 1.5%.",
		"README.md":        "not a policy",
		"notes.TXT.backup": "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.txt"), 0755))
	return dir
}

func TestReadChunks(t *testing.T) {
	chunks, err := ReadChunks(strings.NewReader("  first line \n\n\t\nsecond\n"), "a.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first line", chunks[0].Text)
	assert.Equal(t, "a.txt", chunks[1].Source)
}

func TestIngestDirectory(t *testing.T) {
	ctx := context.Background()
	ix, err := NewIndex(ctx, NewMemoryChunkStore(), NewSimpleEmbedding(64))
	require.NoError(t, err)

	report, err := NewIngestor(ix, testLogger(), 2).IngestDirectory(ctx, writeDocs(t))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 4, report.Chunks)
	assert.Equal(t, 4, ix.Len())

	all, err := ix.store.All(ctx)
	require.NoError(t, err)
	// Files are processed in name order, lines in file order
	assert.Equal(t, "aml_policy.txt", all[0].Source)
	assert.Equal(t, "Flag transfers above 10000 EUR.", all[0].Text)
	assert.Equal(t, "card_limits.txt", all[3].Source)
	assert.Equal(t, "id_3", all[3].ID)

	res, err := ix.Search(ctx, "daily card limit", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "card_limits.txt", res[0].Source)
}

func TestIngestDirectoryTwiceAddsNothing(t *testing.T) {
	ctx := context.Background()
	ix, err := NewIndex(ctx, NewMemoryChunkStore(), NewSimpleEmbedding(64))
	require.NoError(t, err)
	dir := writeDocs(t)
	ingestor := NewIngestor(ix, testLogger(), 2)

	_, err = ingestor.IngestDirectory(ctx, dir)
	require.NoError(t, err)
	report, err := ingestor.IngestDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Chunks)
	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, 4, ix.Len())

	res, err := ix.Search(ctx, "Flag transfers above 10000 EUR.", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	texts := map[string]bool{}
	for _, r := range res {
		texts[r.Text] = true
	}
	assert.Len(t, texts, 3, "top results are distinct chunks")

	// A new line in an existing file is the only thing added
	f, err := os.OpenFile(filepath.Join(dir, "aml_policy.txt"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("Report suspicious activity within 24 hours.\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err = ingestor.IngestDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 5, ix.Len())

	all, err := ix.store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id_4", all[4].ID)
}

func TestIngestMissingDirectory(t *testing.T) {
	ix, err := NewIndex(context.Background(), NewMemoryChunkStore(), NewSimpleEmbedding(8))
	require.NoError(t, err)

	_, err = NewIngestor(ix, testLogger(), 1).IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestHTTPEmbedding(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/embed", r.URL.Path)

		var body struct {
			Inputs []string `json:"inputs"`
			Model  string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mini", body.Model)

		out := make([][]float32, len(body.Inputs))
		for i := range body.Inputs {
			out[i] = []float32{float32(i), 1}
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	emb := NewHTTPEmbedding(srv.URL+"/", "mini", 2, 5*time.Second)
	vecs, err := emb.GenerateBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)

	vec, err := emb.Generate(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, emb.Dimensions())
}

func TestHTTPEmbeddingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedding(srv.URL, "mini", 2, time.Second).Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "503")
}
