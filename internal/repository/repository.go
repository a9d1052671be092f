// Package repository defines domain models and data access interfaces
// for the indexed report and its chunks.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document statuses.
const (
	StatusIndexing = "indexing"
	StatusReady    = "ready"
	StatusFailed   = "failed"
)

// Document represents the indexed report
type Document struct {
	ID           uuid.UUID
	Source       string
	ContentHash  string
	PageCount    int
	ChunkCount   int
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
	IndexedAt    *time.Time
}

// DocumentChunk represents a stored chunk of the report
type DocumentChunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ChunkIndex int
	Page       int
	Offset     int
	Content    string
	HasNumbers bool
	WordCount  int
	CreatedAt  time.Time
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByHash(ctx context.Context, hash string) (*Document, error)
	GetLatest(ctx context.Context) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Chunk operations
	CreateChunks(ctx context.Context, chunks []*DocumentChunk) error
	GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*DocumentChunk, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
}
