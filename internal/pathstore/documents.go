package pathstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dgallion1/docask/internal/store"
)

const rootKey = "docask"

// keySegment encodes s as one path segment. The encoding is unpadded
// base64url, so distinct inputs never share a key. "_" is not a valid
// encoding and stands for the empty string.
func keySegment(s string) string {
	if s == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func documentKey(id string) string {
	return rootKey + "/documents/" + keySegment(id)
}

func ownerKey(owner string) string {
	return rootKey + "/owners/" + keySegment(owner)
}

func summaryKey(owner, id string) string {
	return ownerKey(owner) + "/documents/" + keySegment(id)
}

func hashKey(owner, hash string) string {
	return ownerKey(owner) + "/by_hash/" + keySegment(hash)
}

// DocumentStore keeps documents in pathstore. Each document is written to
// three keys: the full record, a summary under its owner for listing, and
// a content-hash index entry for dedup.
type DocumentStore struct {
	client *Client
	source string
}

var _ store.Store = (*DocumentStore)(nil)

// NewDocumentStore returns a store backed by client. source is recorded on
// every node written.
func NewDocumentStore(client *Client, source string) *DocumentStore {
	return &DocumentStore{client: client, source: source}
}

type hashEntry struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

func (s *DocumentStore) Put(ctx context.Context, rec *store.Record) error {
	if rec == nil || rec.Document == nil || rec.Document.ID == "" {
		return fmt.Errorf("put document: missing document id")
	}
	id := rec.Document.ID
	if err := s.client.PutNode(ctx, documentKey(id), NodeRequest{
		Value:      rec,
		MergeMode:  "replace",
		MemoryType: "document",
		Source:     s.source,
	}); err != nil {
		return fmt.Errorf("put document %s: %w", id, err)
	}
	if err := s.client.PutNode(ctx, summaryKey(rec.Owner, id), NodeRequest{
		Value:      store.Summarize(rec),
		MergeMode:  "replace",
		MemoryType: "document_summary",
		Source:     s.source,
	}); err != nil {
		return fmt.Errorf("put summary %s: %w", id, err)
	}
	if rec.Document.Hash != "" {
		if err := s.client.PutNode(ctx, hashKey(rec.Owner, rec.Document.Hash), NodeRequest{
			Value:     hashEntry{ID: id, Owner: rec.Owner},
			MergeMode: "replace",
			Source:    s.source,
		}); err != nil {
			return fmt.Errorf("put hash index %s: %w", id, err)
		}
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*store.Record, error) {
	node, err := s.client.GetNode(ctx, documentKey(id))
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	if node == nil || len(node.Value) == 0 || string(node.Value) == "null" {
		return nil, fmt.Errorf("get document %s: %w", id, store.ErrNotFound)
	}
	var rec store.Record
	if err := json.Unmarshal(node.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if rec.Document == nil {
		return nil, fmt.Errorf("decode document %s: empty record", id)
	}
	return &rec, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	// Index entries go first so a partial failure never leaves a listing
	// that points at a missing record.
	if rec.Document.Hash != "" {
		if err := s.client.DeleteNode(ctx, hashKey(rec.Owner, rec.Document.Hash), false); err != nil {
			return fmt.Errorf("delete hash index %s: %w", id, err)
		}
	}
	if err := s.client.DeleteNode(ctx, summaryKey(rec.Owner, id), false); err != nil {
		return fmt.Errorf("delete summary %s: %w", id, err)
	}
	if err := s.client.DeleteNode(ctx, documentKey(id), false); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (s *DocumentStore) List(ctx context.Context, owner string) ([]store.Summary, error) {
	nodes, err := s.client.ListChildren(ctx, ownerKey(owner)+"/documents", 0)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]store.Summary, 0, len(nodes))
	for _, n := range nodes {
		var sum store.Summary
		if err := json.Unmarshal(n.Value, &sum); err != nil || sum.ID == "" || sum.Owner != owner {
			continue
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *DocumentStore) FindByHash(ctx context.Context, owner, hash string) (string, error) {
	node, err := s.client.GetNode(ctx, hashKey(owner, hash))
	if err != nil {
		return "", fmt.Errorf("find by hash: %w", err)
	}
	if node == nil {
		return "", store.ErrNotFound
	}
	var entry hashEntry
	if err := json.Unmarshal(node.Value, &entry); err != nil || strings.TrimSpace(entry.ID) == "" || entry.Owner != owner {
		return "", store.ErrNotFound
	}
	return entry.ID, nil
}
