package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

func cacheKey(rt ResourceType) string { return "cache/" + string(rt) }

// cacheState holds the in-memory resource sets. Sets are immutable values,
// so reads hand out the current pointer and writes swap it.
type cacheState struct {
	mu        sync.RWMutex
	sets      map[ResourceType]resourceSet
	updatedAt map[ResourceType]time.Time
	persister *persister
	logger    *slog.Logger
	now       func() time.Time
}

func newCacheState(p *persister, logger *slog.Logger, now func() time.Time) *cacheState {
	return &cacheState{
		sets:      make(map[ResourceType]resourceSet),
		updatedAt: make(map[ResourceType]time.Time),
		persister: p,
		logger:    logger,
		now:       now,
	}
}

func (c *cacheState) get(rt ResourceType) (resourceSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[rt]
	return set, ok
}

func (c *cacheState) lastUpdated(rt ResourceType) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt[rt]
}

func (c *cacheState) types() []ResourceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceType, 0, len(c.sets))
	for rt := range c.sets {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// replace swaps the set for rt and schedules a write-through.
func (c *cacheState) replace(rt ResourceType, set resourceSet) {
	c.mu.Lock()
	c.sets[rt] = set
	c.updatedAt[rt] = c.now()
	c.mu.Unlock()
	c.persist(rt, set)
}

// replaceAll swaps every set in one critical section. Used by snapshot
// restore so readers never observe a half-restored cache.
func (c *cacheState) replaceAll(sets map[ResourceType]resourceSet) {
	now := c.now()
	c.mu.Lock()
	for rt, set := range sets {
		c.sets[rt] = set
		c.updatedAt[rt] = now
	}
	c.mu.Unlock()
	for rt, set := range sets {
		c.persist(rt, set)
	}
}

func (c *cacheState) persist(rt ResourceType, set resourceSet) {
	blob, err := set.encode()
	if err != nil {
		c.logger.Error("Failed to encode resource set for persistence",
			"resource", rt,
			"error", err)
		return
	}
	c.persister.put(cacheKey(rt), blob)
}

// load rehydrates rt from the store. A missing key leaves the cache empty.
func (c *cacheState) load(ctx context.Context, store PersistentStore, rt ResourceType) error {
	blob, ok, err := store.Read(ctx, cacheKey(rt))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return nil
	}
	set, err := decodeResource(rt, blob)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	c.mu.Lock()
	c.sets[rt] = set
	c.mu.Unlock()
	c.logger.Debug("Rehydrated resource from store", "resource", rt, "records", set.Len())
	return nil
}

// collectionOf returns the typed collection for rt, or an empty one when the
// resource was never loaded.
func collectionOf[T Record](c *cacheState, rt ResourceType) (*Collection[T], error) {
	set, ok := c.get(rt)
	if !ok {
		return NewCollection[T](nil), nil
	}
	col, ok := set.(*Collection[T])
	if !ok {
		return nil, syncErrors.NewValidationError(syncErrors.OpLoad,
			fmt.Errorf("resource %q does not hold %T records", rt, *new(T)))
	}
	return col, nil
}

// patchCollection applies fn to the typed collection under the write lock
// and persists the result. This is the optimistic-apply path.
func patchCollection[T Record](c *cacheState, rt ResourceType, fn func(*Collection[T]) *Collection[T]) error {
	c.mu.Lock()
	var col *Collection[T]
	if set, ok := c.sets[rt]; ok {
		typed, ok := set.(*Collection[T])
		if !ok {
			c.mu.Unlock()
			return syncErrors.NewValidationError(syncErrors.OpStore,
				fmt.Errorf("resource %q does not hold %T records", rt, *new(T)))
		}
		col = typed
	} else {
		col = NewCollection[T](nil)
	}
	next := fn(col)
	c.sets[rt] = next
	c.updatedAt[rt] = c.now()
	c.mu.Unlock()

	c.persist(rt, next)
	return nil
}

// Records returns a copy of the cached records of rt. It returns nil when rt
// holds a different record type.
func Records[T Record](e *Engine, rt ResourceType) []T {
	col, err := collectionOf[T](e.cache, rt)
	if err != nil {
		e.logger.Warn("Typed read of resource failed", "resource", rt, "error", err)
		return nil
	}
	return col.Items()
}
