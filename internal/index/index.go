// Package index builds and queries the vector index over one report.
//
// The build runs once at startup (extract, chunk, persist, embed,
// upsert); queries take a read lock so a reindex can swap state without
// ever exposing a half-written index.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"finrag/internal/chunker"
	"finrag/internal/embedder"
	"finrag/internal/extractor"
	"finrag/internal/repository"
	"finrag/internal/vectorstore"
)

// ErrIndexUnready is returned when a search arrives before Build completed.
var ErrIndexUnready = errors.New("index not ready")

// chunkIDNamespace scopes the deterministic chunk UUIDs. Reindexing the
// same content yields the same IDs, so upserts overwrite in place.
var chunkIDNamespace = uuid.MustParse("7a3cbd9e-5f1d-4c1a-9b42-f06c2a1d8d11")

// Stats describes the built index for the metrics and health surfaces.
type Stats struct {
	TotalDocs int    `json:"total_docs"`
	Pages     int    `json:"pages"`
	Model     string `json:"model"`
	Ready     bool   `json:"ready"`
}

// Index owns the report's chunks and their embeddings.
type Index struct {
	extractor extractor.Extractor
	chunker   *chunker.Chunker
	embedder  embedder.Embedder
	store     vectorstore.VectorStore
	docs      repository.DocumentRepository
	logger    *slog.Logger

	mu         sync.RWMutex // guards ready state against concurrent reindex
	ready      bool
	pageCount  int
	chunkCount int
}

// Config wires the index collaborators.
type Config struct {
	Extractor extractor.Extractor
	Chunker   *chunker.Chunker
	Embedder  embedder.Embedder
	Store     vectorstore.VectorStore
	Documents repository.DocumentRepository
	Logger    *slog.Logger
}

// New creates an unbuilt index.
func New(cfg Config) *Index {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		extractor: cfg.Extractor,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		docs:      cfg.Documents,
		logger:    logger,
	}
}

// Build extracts, chunks, embeds, and stores the report. It holds the
// write lock for the duration, so concurrent searches either see the
// previous complete state or wait for the new one.
func (idx *Index) Build(ctx context.Context, source string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := time.Now()

	pages, err := idx.extractor.Extract(ctx)
	if err != nil {
		return fmt.Errorf("extract report: %w", err)
	}
	idx.logger.Info("extracted report", "source", source, "pages", len(pages))

	chunks := idx.chunker.Chunk(pages)
	if len(chunks) == 0 {
		return fmt.Errorf("extract report: %w: no chunkable text", extractor.ErrDocumentUnavailable)
	}
	idx.logger.Info("chunked report", "chunks", len(chunks))

	contentHash := hashPages(pages)

	// A report already registered under the same hash with all its
	// points in the store needs no re-embedding.
	if idx.reuseExisting(ctx, contentHash, len(pages), len(chunks)) {
		idx.logger.Info("index reused",
			"chunks", len(chunks),
			"pages", len(pages),
			"model", idx.embedder.ModelName(),
			"duration", time.Since(start),
		)
		return nil
	}

	doc, err := idx.registerDocument(ctx, source, contentHash, len(pages), chunks)
	if err != nil {
		return fmt.Errorf("register document: %w", err)
	}

	if err := idx.store.EnsureCollection(ctx, idx.embedder.Dimension()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = vectorstore.Point{
			ID:         chunkID(contentHash, chunk.Index).String(),
			ChunkIndex: chunk.Index,
			Page:       chunk.Page,
			Text:       chunk.Text,
			Vector:     vectors[i],
			HasNumbers: chunk.HasNumbers,
			WordCount:  chunk.WordCount,
		}
	}

	if err := idx.store.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}

	if doc != nil {
		now := time.Now()
		doc.Status = repository.StatusReady
		doc.IndexedAt = &now
		if err := idx.docs.Update(ctx, doc); err != nil {
			idx.logger.Warn("failed to mark document ready", "error", err)
		}
	}

	idx.ready = true
	idx.pageCount = len(pages)
	idx.chunkCount = len(chunks)

	idx.logger.Info("index built",
		"chunks", len(chunks),
		"pages", len(pages),
		"model", idx.embedder.ModelName(),
		"duration", time.Since(start),
	)
	return nil
}

// reuseExisting reports whether the current report content is already
// fully indexed: registered under the same hash, marked ready, with its
// chunk rows present and the matching point count in the vector store.
// When it is, the build skips re-embedding entirely.
func (idx *Index) reuseExisting(ctx context.Context, contentHash string, pageCount, chunkCount int) bool {
	if idx.docs == nil {
		return false
	}

	doc, err := idx.docs.GetByHash(ctx, contentHash)
	if err != nil || doc.Status != repository.StatusReady || doc.ChunkCount != chunkCount {
		return false
	}

	exists, err := idx.store.CollectionExists(ctx)
	if err != nil || !exists {
		return false
	}
	stored, err := idx.store.Count(ctx)
	if err != nil || stored != uint64(chunkCount) {
		return false
	}

	rows, err := idx.docs.GetChunks(ctx, doc.ID, 1, 0)
	if err != nil || len(rows) == 0 {
		return false
	}

	idx.ready = true
	idx.pageCount = pageCount
	idx.chunkCount = chunkCount
	return true
}

// registerDocument records the report and its chunks in the registry.
// When the same content hash is already registered, the existing rows
// are kept and re-embedding simply overwrites the same point IDs. A
// registration under a different hash is stale (the report file changed
// on disk) and is dropped first, since the pipeline serves one report.
func (idx *Index) registerDocument(ctx context.Context, source, contentHash string, pageCount int, chunks []chunker.Chunk) (*repository.Document, error) {
	if idx.docs == nil {
		return nil, nil
	}

	existing, err := idx.docs.GetByHash(ctx, contentHash)
	if err == nil {
		idx.logger.Info("report already registered", "document_id", existing.ID, "hash", contentHash[:12])
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if stale, err := idx.docs.GetLatest(ctx); err == nil && stale.ContentHash != contentHash {
		idx.logger.Info("report content changed, dropping stale registration",
			"document_id", stale.ID, "old_hash", stale.ContentHash[:12])
		if err := idx.docs.DeleteChunks(ctx, stale.ID); err != nil {
			return nil, err
		}
		if err := idx.docs.Delete(ctx, stale.ID); err != nil {
			return nil, err
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	doc := &repository.Document{
		ID:          uuid.New(),
		Source:      source,
		ContentHash: contentHash,
		PageCount:   pageCount,
		ChunkCount:  len(chunks),
		Status:      repository.StatusIndexing,
		CreatedAt:   time.Now(),
	}
	if err := idx.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	rows := make([]*repository.DocumentChunk, len(chunks))
	now := time.Now()
	for i, chunk := range chunks {
		rows[i] = &repository.DocumentChunk{
			ID:         chunkID(contentHash, chunk.Index),
			DocumentID: doc.ID,
			ChunkIndex: chunk.Index,
			Page:       chunk.Page,
			Offset:     chunk.Offset,
			Content:    chunk.Text,
			HasNumbers: chunk.HasNumbers,
			WordCount:  chunk.WordCount,
			CreatedAt:  now,
		}
	}
	if err := idx.docs.CreateChunks(ctx, rows); err != nil {
		return nil, err
	}

	return doc, nil
}

// Search embeds the query and returns topN candidates ordered by
// similarity descending, equal scores broken by insertion order.
func (idx *Index) Search(ctx context.Context, query string, topN int, minScore float32) ([]vectorstore.Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.ready {
		return nil, ErrIndexUnready
	}

	vector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := idx.store.Search(ctx, vector, topN, minScore)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	// The store promises nothing about the order of equal scores;
	// re-sort so ties resolve by insertion order, stably.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ChunkIndex < candidates[j].ChunkIndex
	})

	return candidates, nil
}

// Ready reports whether Build completed.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Stats returns index statistics for the metrics surface.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		TotalDocs: idx.chunkCount,
		Pages:     idx.pageCount,
		Model:     idx.embedder.ModelName(),
		Ready:     idx.ready,
	}
}

// chunkID derives a deterministic UUID from the report hash and the
// chunk position, keeping reindexing idempotent.
func chunkID(contentHash string, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(chunkIDNamespace, []byte(fmt.Sprintf("%s:%d", contentHash, chunkIndex)))
}

// hashPages generates a SHA-256 hash of the extracted page stream.
func hashPages(pages []extractor.Page) string {
	var sb strings.Builder
	for _, page := range pages {
		sb.WriteString(page.Text)
		sb.WriteByte('\f')
	}
	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}
