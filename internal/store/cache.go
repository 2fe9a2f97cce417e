package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// CacheObserver is told about every cache lookup.
type CacheObserver interface {
	ObserveCache(hit bool)
}

// Cached is a read-through cache in front of a Store. Documents are
// immutable once stored, so only Delete needs to invalidate.
type Cached struct {
	next  Store
	cache *otter.Cache[string, *Record]
	obs   CacheObserver
}

// NewCached wraps next with a W-TinyLFU cache of at most maxSize documents,
// each kept for ttl after it was loaded. obs may be nil.
func NewCached(next Store, maxSize int, ttl time.Duration, obs CacheObserver) (*Cached, error) {
	c, err := otter.New[string, *Record](&otter.Options[string, *Record]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, *Record](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create document cache: %w", err)
	}
	return &Cached{next: next, cache: c, obs: obs}, nil
}

func (c *Cached) Put(ctx context.Context, rec *Record) error {
	if err := c.next.Put(ctx, rec); err != nil {
		return err
	}
	c.cache.Set(rec.Document.ID, rec)
	return nil
}

func (c *Cached) Get(ctx context.Context, id string) (*Record, error) {
	if rec, ok := c.cache.GetIfPresent(id); ok {
		c.observe(true)
		return rec, nil
	}
	c.observe(false)
	rec, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, rec)
	return rec, nil
}

func (c *Cached) Delete(ctx context.Context, id string) error {
	c.cache.Invalidate(id)
	return c.next.Delete(ctx, id)
}

func (c *Cached) List(ctx context.Context, owner string) ([]Summary, error) {
	return c.next.List(ctx, owner)
}

func (c *Cached) FindByHash(ctx context.Context, owner, hash string) (string, error) {
	return c.next.FindByHash(ctx, owner, hash)
}

func (c *Cached) observe(hit bool) {
	if c.obs != nil {
		c.obs.ObserveCache(hit)
	}
}
