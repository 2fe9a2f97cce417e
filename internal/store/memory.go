package store

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is a Store held in process memory, used by the CLI and in tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*Record
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*Record)}
}

func (m *Memory) Put(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[rec.Document.ID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) List(_ context.Context, owner string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for _, rec := range m.docs {
		if owner == "" || rec.Owner == owner {
			out = append(out, Summarize(rec))
		}
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) FindByHash(_ context.Context, owner, hash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, rec := range m.docs {
		if rec.Owner == owner && rec.Document.Hash == hash {
			return id, nil
		}
	}
	return "", ErrNotFound
}
