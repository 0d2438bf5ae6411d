package qrunner

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// imageFetchTimeout bounds a shared fetch once it is detached from the
// caller that started it.
const imageFetchTimeout = 15 * time.Minute

// ImageCache records which image tags are known to be present on the
// container host. It is populated by the first successful Ensure for a tag
// and only invalidated by Forget or Clear. Concurrent Ensure calls for the
// same tag share a single fetch.
type ImageCache struct {
	mu     sync.Mutex
	ready  map[string]struct{}
	flight singleflight.Group
}

var defaultImageCache = NewImageCache()

// DefaultImageCache returns the process-wide cache used by docker runners
// unless WithImageCache says otherwise.
func DefaultImageCache() *ImageCache {
	return defaultImageCache
}

func NewImageCache() *ImageCache {
	return &ImageCache{ready: make(map[string]struct{})}
}

// Has reports whether tag has already been ensured.
func (c *ImageCache) Has(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ready[tag]
	return ok
}

// Ensure calls fetch for tag unless the tag is already cached. Callers
// racing on the same tag share one fetch and its error. The fetch is not
// tied to any single caller's context, so a caller that gives up only stops
// its own wait.
func (c *ImageCache) Ensure(ctx context.Context, tag string, fetch func(context.Context) error) error {
	if c.Has(tag) {
		return nil
	}

	ch := c.flight.DoChan(tag, func() (any, error) {
		if c.Has(tag) {
			return nil, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), imageFetchTimeout)
		defer cancel()
		if err := fetch(fctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.ready[tag] = struct{}{}
		c.mu.Unlock()
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Forget drops one tag so the next Ensure fetches again.
func (c *ImageCache) Forget(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ready, tag)
}

// Clear drops every tag.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = make(map[string]struct{})
}

// Tags lists cached tags in sorted order.
func (c *ImageCache) Tags() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags := make([]string, 0, len(c.ready))
	for t := range c.ready {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
