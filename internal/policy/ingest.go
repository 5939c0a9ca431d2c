package policy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quantumflow/finassist/internal/models"
)

// IngestReport summarizes one ingestion run
type IngestReport struct {
	Files   int
	Chunks  int // added to the index
	Skipped int // already present
}

// Ingestor loads a directory of policy text files into an index
type Ingestor struct {
	index    *Index
	embedder EmbeddingGenerator
	logger   *slog.Logger
	workers  int
}

// NewIngestor creates an ingestor. Files are embedded concurrently, up to workers at a time.
func NewIngestor(index *Index, logger *slog.Logger, workers int) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	return &Ingestor{index: index, embedder: index.embedder, logger: logger, workers: workers}
}

// IngestDirectory adds every .txt file under dir (non-recursive, sorted by name).
// Each trimmed non-empty line becomes one chunk tagged with its filename.
func (in *Ingestor) IngestDirectory(ctx context.Context, dir string) (*IngestReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		files = append(files, e.Name())
	}

	perFile := make([][]models.Chunk, len(files))
	skipped := make([]int, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)

	for i, name := range files {
		i, name := i, name
		g.Go(func() error {
			chunks, err := readChunkFile(filepath.Join(dir, name), name)
			if err != nil {
				return err
			}
			read := len(chunks)
			chunks = in.index.absent(chunks)
			skipped[i] = read - len(chunks)
			if len(chunks) == 0 {
				return nil
			}

			texts := make([]string, len(chunks))
			for j, c := range chunks {
				texts[j] = c.Text
			}
			vectors, err := in.embedder.GenerateBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed %s: %w", name, err)
			}
			for j := range chunks {
				chunks[j].Embedding = vectors[j]
			}

			perFile[i] = chunks
			in.logger.Debug("embedded policy file", "file", name, "chunks", len(chunks))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &IngestReport{Files: len(files)}
	var all []models.Chunk
	for i, chunks := range perFile {
		all = append(all, chunks...)
		report.Skipped += skipped[i]
	}
	added, err := in.index.Add(ctx, all)
	if err != nil {
		return nil, err
	}
	report.Chunks = added
	report.Skipped += len(all) - added

	in.logger.Info("ingested policy documents", "dir", dir, "files", report.Files, "chunks", report.Chunks, "skipped", report.Skipped)
	return report, nil
}

func readChunkFile(path, source string) ([]models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer f.Close()

	chunks, err := ReadChunks(f, source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return chunks, nil
}

// ReadChunks splits r into one chunk per trimmed non-empty line
func ReadChunks(r io.Reader, source string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Text: line, Source: source})
	}
	return chunks, scanner.Err()
}
