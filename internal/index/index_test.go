package index

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"finrag/internal/chunker"
	"finrag/internal/extractor"
	"finrag/internal/repository"
	"finrag/internal/vectorstore"
)

type stubExtractor struct {
	pages []extractor.Page
	err   error
}

func (s *stubExtractor) Extract(_ context.Context) ([]extractor.Page, error) {
	return s.pages, s.err
}

// stubEmbedder maps each text to a fixed-dimension vector derived from
// its length, which is stable across calls.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (stubEmbedder) Dimension() int    { return 3 }
func (stubEmbedder) ModelName() string { return "stub-embed" }

// memStore records upserts and returns canned search results.
type memStore struct {
	points  map[string]vectorstore.Point
	results []vectorstore.Candidate
	upserts int
}

func newMemStore() *memStore {
	return &memStore{points: make(map[string]vectorstore.Point)}
}

func (m *memStore) EnsureCollection(_ context.Context, _ int) error { return nil }
func (m *memStore) CollectionExists(_ context.Context) (bool, error) {
	return len(m.points) > 0, nil
}

func (m *memStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	m.upserts++
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *memStore) Search(_ context.Context, _ []float32, topN int, _ float32) ([]vectorstore.Candidate, error) {
	if len(m.results) > topN {
		return m.results[:topN], nil
	}
	return m.results, nil
}

func (m *memStore) Count(_ context.Context) (uint64, error) { return uint64(len(m.points)), nil }

// memRepo is an in-memory DocumentRepository.
type memRepo struct {
	docs   map[uuid.UUID]*repository.Document
	chunks map[uuid.UUID][]*repository.DocumentChunk
}

func newMemRepo() *memRepo {
	return &memRepo{
		docs:   make(map[uuid.UUID]*repository.Document),
		chunks: make(map[uuid.UUID][]*repository.DocumentChunk),
	}
}

func (m *memRepo) Create(_ context.Context, doc *repository.Document) error {
	m.docs[doc.ID] = doc
	return nil
}

func (m *memRepo) GetByHash(_ context.Context, hash string) (*repository.Document, error) {
	for _, doc := range m.docs {
		if doc.ContentHash == hash {
			return doc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) GetLatest(_ context.Context) (*repository.Document, error) {
	var latest *repository.Document
	for _, doc := range m.docs {
		if latest == nil || doc.CreatedAt.After(latest.CreatedAt) {
			latest = doc
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (m *memRepo) Update(_ context.Context, doc *repository.Document) error {
	if _, ok := m.docs[doc.ID]; !ok {
		return repository.ErrNotFound
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.docs, id)
	return nil
}

func (m *memRepo) CreateChunks(_ context.Context, chunks []*repository.DocumentChunk) error {
	for _, chunk := range chunks {
		m.chunks[chunk.DocumentID] = append(m.chunks[chunk.DocumentID], chunk)
	}
	return nil
}

func (m *memRepo) GetChunks(_ context.Context, documentID uuid.UUID, limit, offset int) ([]*repository.DocumentChunk, error) {
	rows := m.chunks[documentID]
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memRepo) DeleteChunks(_ context.Context, documentID uuid.UUID) error {
	delete(m.chunks, documentID)
	return nil
}

var _ repository.DocumentRepository = (*memRepo)(nil)

func testIndex(pages []extractor.Page, store *memStore) *Index {
	return New(Config{
		Extractor: &stubExtractor{pages: pages},
		Chunker:   chunker.New(chunker.Config{Size: 40, Overlap: 10}),
		Embedder:  stubEmbedder{},
		Store:     store,
	})
}

func TestSearchBeforeBuildReturnsUnready(t *testing.T) {
	idx := testIndex(nil, newMemStore())

	_, err := idx.Search(context.Background(), "anything", 5, 0)
	if !errors.Is(err, ErrIndexUnready) {
		t.Fatalf("expected ErrIndexUnready, got %v", err)
	}
	if idx.Ready() {
		t.Fatal("index should not report ready before build")
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	pages := []extractor.Page{
		{Number: 1, Text: strings.Repeat("revenue grew strongly this year. ", 4)},
	}
	store := newMemStore()
	idx := testIndex(pages, store)

	if err := idx.Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("first build: %v", err)
	}
	firstCount := len(store.points)
	if firstCount == 0 {
		t.Fatal("expected points after build")
	}

	if err := idx.Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if len(store.points) != firstCount {
		t.Fatalf("rebuild changed point count: %d -> %d", firstCount, len(store.points))
	}
	if store.upserts != 2 {
		t.Fatalf("expected 2 upsert calls, got %d", store.upserts)
	}
}

func TestBuildReusesExistingIndex(t *testing.T) {
	pages := []extractor.Page{
		{Number: 1, Text: strings.Repeat("operating margin held steady. ", 4)},
	}
	store := newMemStore()
	repo := newMemRepo()

	cfg := Config{
		Extractor: &stubExtractor{pages: pages},
		Chunker:   chunker.New(chunker.Config{Size: 40, Overlap: 10}),
		Embedder:  stubEmbedder{},
		Store:     store,
		Documents: repo,
	}

	if err := New(cfg).Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if store.upserts != 1 {
		t.Fatalf("expected 1 upsert after first build, got %d", store.upserts)
	}

	// A fresh process over the same content finds the registration and
	// the stored points, and skips re-embedding.
	restarted := New(cfg)
	if err := restarted.Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if store.upserts != 1 {
		t.Fatalf("rebuild re-embedded: %d upserts", store.upserts)
	}
	if !restarted.Ready() {
		t.Fatal("reused index should report ready")
	}
	if stats := restarted.Stats(); stats.Pages != 1 {
		t.Errorf("pages = %d, want 1", stats.Pages)
	}
}

func TestBuildDropsStaleRegistration(t *testing.T) {
	repo := newMemRepo()
	staleID := uuid.New()
	repo.docs[staleID] = &repository.Document{
		ID:          staleID,
		Source:      "report.pdf",
		ContentHash: "deadbeef00001111",
		ChunkCount:  3,
		Status:      repository.StatusReady,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	repo.chunks[staleID] = []*repository.DocumentChunk{{ID: uuid.New(), DocumentID: staleID}}

	pages := []extractor.Page{
		{Number: 1, Text: strings.Repeat("cash flow from operations improved. ", 4)},
	}
	idx := New(Config{
		Extractor: &stubExtractor{pages: pages},
		Chunker:   chunker.New(chunker.Config{Size: 40, Overlap: 10}),
		Embedder:  stubEmbedder{},
		Store:     newMemStore(),
		Documents: repo,
	})
	if err := idx.Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, ok := repo.docs[staleID]; ok {
		t.Error("stale document registration was kept")
	}
	if len(repo.chunks[staleID]) != 0 {
		t.Error("stale chunk rows were kept")
	}
	if len(repo.docs) != 1 {
		t.Errorf("expected exactly 1 registered document, got %d", len(repo.docs))
	}
}

func TestBuildFailsOnEmptyReport(t *testing.T) {
	idx := testIndex(nil, newMemStore())

	err := idx.Build(context.Background(), "empty.pdf")
	if !errors.Is(err, extractor.ErrDocumentUnavailable) {
		t.Fatalf("expected ErrDocumentUnavailable, got %v", err)
	}
	if idx.Ready() {
		t.Fatal("failed build must leave index unready")
	}
}

func TestSearchBreaksTiesByChunkIndex(t *testing.T) {
	pages := []extractor.Page{{Number: 1, Text: strings.Repeat("x", 100)}}
	store := newMemStore()
	store.results = []vectorstore.Candidate{
		{ChunkIndex: 4, Similarity: 0.90},
		{ChunkIndex: 1, Similarity: 0.90},
		{ChunkIndex: 2, Similarity: 0.95},
	}
	idx := testIndex(pages, store)
	if err := idx.Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("build: %v", err)
	}

	got, err := idx.Search(context.Background(), "query", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	wantOrder := []int{2, 1, 4}
	for i, want := range wantOrder {
		if got[i].ChunkIndex != want {
			t.Errorf("position %d: got chunk %d, want %d", i, got[i].ChunkIndex, want)
		}
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := chunkID("abc123", 7)
	b := chunkID("abc123", 7)
	c := chunkID("abc123", 8)

	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different chunk indexes produced the same ID")
	}
}

func TestStatsReflectBuild(t *testing.T) {
	pages := []extractor.Page{
		{Number: 1, Text: strings.Repeat("alpha beta gamma ", 5)},
		{Number: 2, Text: strings.Repeat("delta epsilon ", 5)},
	}
	idx := testIndex(pages, newMemStore())
	if err := idx.Build(context.Background(), "report.pdf"); err != nil {
		t.Fatalf("build: %v", err)
	}

	stats := idx.Stats()
	if !stats.Ready {
		t.Error("stats should report ready")
	}
	if stats.Pages != 2 {
		t.Errorf("pages = %d, want 2", stats.Pages)
	}
	if stats.TotalDocs == 0 {
		t.Error("expected nonzero chunk count")
	}
	if stats.Model != "stub-embed" {
		t.Errorf("model = %q", stats.Model)
	}
}
