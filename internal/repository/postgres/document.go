package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"finrag/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create creates a new document
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	query := `
		INSERT INTO documents (id, source, content_hash, page_count, chunk_count, status, error_message, created_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Source, doc.ContentHash, doc.PageCount,
		doc.ChunkCount, doc.Status, doc.ErrorMessage,
		doc.CreatedAt, doc.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByHash retrieves a document by content hash
func (r *DocumentRepo) GetByHash(ctx context.Context, hash string) (*repository.Document, error) {
	query := `
		SELECT id, source, content_hash, page_count, chunk_count, status, error_message, created_at, indexed_at
		FROM documents
		WHERE content_hash = $1
	`
	return r.scanDocument(ctx, query, hash)
}

// GetLatest retrieves the most recently created document
func (r *DocumentRepo) GetLatest(ctx context.Context) (*repository.Document, error) {
	query := `
		SELECT id, source, content_hash, page_count, chunk_count, status, error_message, created_at, indexed_at
		FROM documents
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanDocument(ctx, query)
}

func (r *DocumentRepo) scanDocument(ctx context.Context, query string, args ...any) (*repository.Document, error) {
	var doc repository.Document

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Source, &doc.ContentHash, &doc.PageCount,
		&doc.ChunkCount, &doc.Status, &doc.ErrorMessage,
		&doc.CreatedAt, &doc.IndexedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// Update updates a document
func (r *DocumentRepo) Update(ctx context.Context, doc *repository.Document) error {
	query := `
		UPDATE documents
		SET source = $2, content_hash = $3, page_count = $4, chunk_count = $5,
		    status = $6, error_message = $7, indexed_at = $8
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Source, doc.ContentHash, doc.PageCount,
		doc.ChunkCount, doc.Status, doc.ErrorMessage, doc.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a document
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateChunks creates multiple document chunks
func (r *DocumentRepo) CreateChunks(ctx context.Context, chunks []*repository.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, chunk_index, page, chunk_offset, content, has_numbers, word_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Page, chunk.Offset,
			chunk.Content, chunk.HasNumbers, chunk.WordCount, chunk.CreatedAt)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to create chunk: %w", err)
		}
	}

	return nil
}

// GetChunks retrieves chunks for a document ordered by chunk index
func (r *DocumentRepo) GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*repository.DocumentChunk, error) {
	query := `
		SELECT id, document_id, chunk_index, page, chunk_offset, content, has_numbers, word_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*repository.DocumentChunk
	for rows.Next() {
		var chunk repository.DocumentChunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Page,
			&chunk.Offset, &chunk.Content, &chunk.HasNumbers, &chunk.WordCount,
			&chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &chunk)
	}

	return chunks, nil
}

// DeleteChunks deletes all chunks for a document
func (r *DocumentRepo) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
