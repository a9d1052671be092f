package postgres

import (
	"context"
	"fmt"
)

// schema creates the chunk registry tables. Idempotent so the service
// can run it on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	source TEXT NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	page_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	indexed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	page INTEGER NOT NULL,
	chunk_offset INTEGER NOT NULL,
	content TEXT NOT NULL,
	has_numbers BOOLEAN NOT NULL DEFAULT FALSE,
	word_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(document_id);
`

// Migrate applies the registry schema.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
