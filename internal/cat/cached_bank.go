package cat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedBank memoizes an assignment's item list for a TTL. Concurrent misses
// for the same assignment share one load. Choices are passed through.
type CachedBank struct {
	next QuestionBank
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedItems
	group   singleflight.Group
}

type cachedItems struct {
	items   []Item
	expires time.Time
}

// NewCachedBank wraps next. A ttl of zero or less disables caching and
// returns next unchanged.
func NewCachedBank(next QuestionBank, ttl time.Duration) QuestionBank {
	if ttl <= 0 {
		return next
	}
	return &CachedBank{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cachedItems{},
	}
}

func (c *CachedBank) GetItemsForAssignment(ctx context.Context, assignmentID string) ([]Item, error) {
	c.mu.RLock()
	e, ok := c.entries[assignmentID]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.items, nil
	}

	v, err, _ := c.group.Do(assignmentID, func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[assignmentID]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expires) {
			return e.items, nil
		}
		items, err := c.next.GetItemsForAssignment(ctx, assignmentID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[assignmentID] = cachedItems{items: items, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Item), nil
}

func (c *CachedBank) GetChoicesForItem(ctx context.Context, itemID string) ([]Choice, error) {
	return c.next.GetChoicesForItem(ctx, itemID)
}

// Invalidate drops the cached list for assignmentID, e.g. after an import.
func (c *CachedBank) Invalidate(assignmentID string) {
	c.mu.Lock()
	delete(c.entries, assignmentID)
	c.mu.Unlock()
}
