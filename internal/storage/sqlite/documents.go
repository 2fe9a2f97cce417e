package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgallion1/docask/internal/store"
)

var _ store.Store = (*Store)(nil)

// Put inserts or replaces a document.
func (s *Store) Put(ctx context.Context, rec *store.Record) error {
	if rec == nil || rec.Document == nil || rec.Document.ID == "" {
		return fmt.Errorf("put document: missing document id")
	}
	body, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	doc := rec.Document
	_, err = s.write.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, owner, filename, title, content_hash, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, rec.Owner, rec.Filename, doc.Title, doc.Hash, body,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	return nil
}

// Get loads a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Record, error) {
	var (
		rec       store.Record
		body      []byte
		createdAt string
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT owner, filename, body, created_at FROM documents WHERE id = ?`, id,
	).Scan(&rec.Owner, &rec.Filename, &body, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, notFoundErr(err))
	}
	if err := json.Unmarshal(body, &rec.Document); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return checkRowsAffected(res, "document "+id)
}

// List returns owner's documents, newest first.
func (s *Store) List(ctx context.Context, owner string) ([]store.Summary, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT filename, body, created_at FROM documents WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []store.Summary
	for rows.Next() {
		var (
			rec       = store.Record{Owner: owner}
			body      []byte
			createdAt string
		)
		if err := rows.Scan(&rec.Filename, &body, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &rec.Document); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, store.Summarize(&rec))
	}
	return out, rows.Err()
}

// FindByHash returns the ID of owner's newest document with hash.
func (s *Store) FindByHash(ctx context.Context, owner, hash string) (string, error) {
	var id string
	err := s.read.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE owner = ? AND content_hash = ? ORDER BY created_at DESC LIMIT 1`,
		owner, hash,
	).Scan(&id)
	if err != nil {
		return "", notFoundErr(err)
	}
	return id, nil
}

// notFoundErr translates sql.ErrNoRows to store.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func checkRowsAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, store.ErrNotFound)
	}
	return nil
}
