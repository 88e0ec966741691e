package feed

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"time"

	"taxiifeed/internal/metrics"
	"taxiifeed/internal/stix"
)

// ResultCache is an LRU cache with TTL for merged result sets. Keys combine
// the snapshot digest with the filter, so an entry can never outlive the
// directory contents it was merged from; the TTL only bounds memory held for
// filters nobody asks for anymore.
type ResultCache struct {
	maxSize int
	ttl     time.Duration
	items   map[string]*cacheItem
	lruList *list.List
	mu      sync.Mutex
	now     func() time.Time
}

type cacheItem struct {
	key       string
	value     []stix.Object
	element   *list.Element
	expiresAt time.Time
}

func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		maxSize: max(maxSize, 1),
		ttl:     ttl,
		items:   make(map[string]*cacheItem),
		lruList: list.New(),
		now:     time.Now,
	}
}

func (c *ResultCache) Get(key string) ([]stix.Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		metrics.ResultCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.removeItem(item)
		metrics.ResultCacheLookups.WithLabelValues("expired").Inc()
		return nil, false
	}

	c.lruList.MoveToFront(item.element)
	metrics.ResultCacheLookups.WithLabelValues("hit").Inc()
	return item.value, true
}

func (c *ResultCache) Set(key string, value []stix.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.items[key]; exists {
		existing.value = value
		existing.expiresAt = c.now().Add(c.ttl)
		c.lruList.MoveToFront(existing.element)
		return
	}

	item := &cacheItem{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	item.element = c.lruList.PushFront(item)
	c.items[key] = item

	for len(c.items) > c.maxSize {
		c.removeItem(c.lruList.Back().Value.(*cacheItem))
	}
}

func (c *ResultCache) removeItem(item *cacheItem) {
	delete(c.items, item.key)
	c.lruList.Remove(item.element)
}

func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// resultKey identifies the merge of snap under f. f.Types must already be
// normalized.
func resultKey(snap *Snapshot, f Filter) string {
	var b strings.Builder
	b.WriteString(snap.Digest())
	b.WriteByte('|')
	b.WriteString(strings.Join(f.Types, ","))
	b.WriteByte('|')
	if !f.Since.IsZero() {
		b.WriteString(f.Since.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(f.Limit))
	return b.String()
}
