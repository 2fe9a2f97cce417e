// Package store persists parsed documents.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgallion1/docask/internal/doctree"
)

// ErrNotFound is returned when no document has the requested ID or hash.
var ErrNotFound = errors.New("document not found")

// Record is a stored document and who uploaded it.
type Record struct {
	Document  *doctree.Document `json:"document"`
	Owner     string            `json:"owner"`
	Filename  string            `json:"filename"`
	CreatedAt time.Time         `json:"created_at"`
}

// Summary describes a document without its content.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	Owner     string    `json:"owner"`
	Hash      string    `json:"content_hash"`
	Sections  []string  `json:"sections"`
	Blocks    int       `json:"blocks"`
	CreatedAt time.Time `json:"created_at"`
}

// Summarize builds the listing entry for rec.
func Summarize(rec *Record) Summary {
	doc := rec.Document
	return Summary{
		ID:        doc.ID,
		Title:     doc.Title,
		Filename:  rec.Filename,
		Owner:     rec.Owner,
		Hash:      doc.Hash,
		Sections:  doc.SectionLabels(),
		Blocks:    len(doc.Blocks),
		CreatedAt: rec.CreatedAt,
	}
}

// Store keeps documents by ID. Implementations return ErrNotFound (possibly
// wrapped) for missing documents.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, owner string) ([]Summary, error)
	// FindByHash returns the ID of owner's document with the given content
	// hash.
	FindByHash(ctx context.Context, owner, hash string) (string, error)
}
