// Package vectorstore provides interfaces and implementations for vector similarity search.
package vectorstore

import (
	"context"
)

// Point is a chunk with its embedding, ready for storage.
type Point struct {
	ID         string
	ChunkIndex int
	Page       int
	Text       string
	Vector     []float32
	HasNumbers bool
	WordCount  int
}

// Candidate is a search hit: a stored chunk plus its cosine similarity.
type Candidate struct {
	ID         string
	ChunkIndex int
	Page       int
	Text       string
	Similarity float32
	HasNumbers bool
	WordCount  int
}

// VectorStore defines the interface for vector storage operations.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist yet.
	EnsureCollection(ctx context.Context, dimension int) error

	// CollectionExists reports whether the collection has been created.
	CollectionExists(ctx context.Context) (bool, error)

	// Upsert inserts or updates points. Re-upserting a point with the
	// same ID and vector is a no-op, which keeps reindexing idempotent.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to topN candidates by cosine similarity,
	// descending. minScore of 0 disables the threshold.
	Search(ctx context.Context, vector []float32, topN int, minScore float32) ([]Candidate, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (uint64, error)
}
