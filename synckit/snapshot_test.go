package synckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
)

type snapshotFixture struct {
	cache *cacheState
	mgr   *SnapshotManager
	clock *fixedClock
	store *MemoryStore
}

func newSnapshotFixture(t *testing.T) *snapshotFixture {
	t.Helper()
	store := NewMemoryStore()
	clock := newFixedClock()
	p := newTestPersister(t, store)
	logger := logging.Discard().Logger
	cache := newCacheState(p, logger, clock.Now)
	return &snapshotFixture{
		cache: cache,
		mgr:   newSnapshotManager(DefaultSnapshotCapacity, cache, p, logger, clock.Now),
		clock: clock,
		store: store,
	}
}

func (f *snapshotFixture) setProducts(ids ...string) {
	var ps []Product
	for _, id := range ids {
		ps = append(ps, Product{ID: id, Name: "product " + id})
	}
	f.cache.replace(ResourceProducts, NewCollection(ps))
}

func productIDs(t *testing.T, c *cacheState) []string {
	t.Helper()
	col, err := collectionOf[Product](c, ResourceProducts)
	require.NoError(t, err)
	return col.ids()
}

func TestSnapshotManager_RetainsNewestFive(t *testing.T) {
	f := newSnapshotFixture(t)

	var ids []string
	for i := 0; i < 7; i++ {
		f.clock.Advance(time.Minute)
		s, err := f.mgr.CreateSnapshot(fmt.Sprintf("snap %d", i), []ResourceType{ResourceProducts})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	list := f.mgr.ListSnapshots()
	require.Len(t, list, DefaultSnapshotCapacity)
	for i, s := range list {
		assert.Equal(t, ids[6-i], s.ID, "newest first")
	}
	_, ok := f.mgr.Get(ids[0])
	assert.False(t, ok, "oldest evicted")
	_, ok = f.mgr.Get(ids[1])
	assert.False(t, ok)
}

func TestSnapshotManager_CapturesUnloadedTypesAsEmpty(t *testing.T) {
	f := newSnapshotFixture(t)
	f.setProducts("a")

	s, err := f.mgr.CreateSnapshot("mixed", []ResourceType{ResourceProducts, ResourceCart})
	require.NoError(t, err)
	assert.Equal(t, []ResourceType{ResourceCart, ResourceProducts}, s.Types())
	assert.JSONEq(t, "[]", string(s.Resources[ResourceCart]))
}

func TestSnapshotManager_RestoreReplacesCapturedTypes(t *testing.T) {
	f := newSnapshotFixture(t)
	f.setProducts("a", "b")
	f.cache.replace(ResourceCart, NewCollection([]CartItem{{ProductID: "a", Quantity: 1}}))

	s, err := f.mgr.CreateSnapshot("before", []ResourceType{ResourceProducts})
	require.NoError(t, err)

	f.setProducts("c")
	f.cache.replace(ResourceCart, NewCollection([]CartItem{{ProductID: "c", Quantity: 9}}))

	restored, err := f.mgr.RestoreSnapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, []ResourceType{ResourceProducts}, restored)
	assert.Equal(t, []string{"a", "b"}, productIDs(t, f.cache))

	cart, err := collectionOf[CartItem](f.cache, ResourceCart)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, cart.ids(), "types outside the snapshot are untouched")
}

func TestSnapshotManager_RestoreIsAllOrNothing(t *testing.T) {
	f := newSnapshotFixture(t)
	f.setProducts("a")
	s, err := f.mgr.CreateSnapshot("before", []ResourceType{ResourceProducts, ResourceCart})
	require.NoError(t, err)

	// corrupt one resource of the retained snapshot
	f.mgr.mu.Lock()
	f.mgr.history[0].Resources[ResourceCart] = json.RawMessage(`{"oops":true}`)
	f.mgr.mu.Unlock()

	f.setProducts("z")
	_, err = f.mgr.RestoreSnapshot(s.ID)
	require.Error(t, err)

	var restoreErr *syncErrors.SnapshotRestoreError
	require.True(t, errors.As(err, &restoreErr))
	assert.Equal(t, s.ID, restoreErr.SnapshotID)
	assert.Equal(t, []string{"z"}, productIDs(t, f.cache), "cache left as it was")
}

func TestSnapshotManager_RestoreUnknownID(t *testing.T) {
	f := newSnapshotFixture(t)
	_, err := f.mgr.RestoreSnapshot("does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncErrors.ErrNotFound))
	assert.True(t, syncErrors.IsNotFound(err))
}

func TestSnapshotManager_SnapshotIsIndependentOfLiveCache(t *testing.T) {
	f := newSnapshotFixture(t)
	f.setProducts("a")
	s, err := f.mgr.CreateSnapshot("x", []ResourceType{ResourceProducts})
	require.NoError(t, err)

	s.Resources[ResourceProducts] = json.RawMessage("[]")
	got, ok := f.mgr.Get(s.ID)
	require.True(t, ok)
	assert.Contains(t, string(got.Resources[ResourceProducts]), `"id":"a"`)
}

func TestSnapshotManager_LoadKeepsNewestWithinCapacity(t *testing.T) {
	f := newSnapshotFixture(t)
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		_, err := f.mgr.CreateSnapshot(fmt.Sprintf("s%d", i), []ResourceType{ResourceProducts})
		require.NoError(t, err)
	}
	require.NoError(t, f.mgr.persister.flush(context.Background()))

	small := newSnapshotManager(2, f.cache, newTestPersister(t, f.store), logging.Discard().Logger, f.clock.Now)
	require.NoError(t, small.load(context.Background(), f.store))

	list := small.ListSnapshots()
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].Description)
	assert.Equal(t, "s1", list[1].Description)
}
