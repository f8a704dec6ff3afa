package synckit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

const snapshotsKey = "snapshots/history"

// DefaultSnapshotCapacity is how many snapshots are retained.
const DefaultSnapshotCapacity = 5

// DataSnapshot is an immutable checkpoint of part of the cache. Each
// resource is stored as its JSON array so a snapshot is independent of the
// live collections.
type DataSnapshot struct {
	ID          string                           `json:"id"`
	CreatedAt   time.Time                        `json:"created_at"`
	Description string                           `json:"description"`
	Resources   map[ResourceType]json.RawMessage `json:"resources"`
}

// Types returns the resource types captured by the snapshot, sorted.
func (s DataSnapshot) Types() []ResourceType {
	out := make([]ResourceType, 0, len(s.Resources))
	for rt := range s.Resources {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s DataSnapshot) clone() DataSnapshot {
	c := s
	c.Resources = make(map[ResourceType]json.RawMessage, len(s.Resources))
	for rt, raw := range s.Resources {
		c.Resources[rt] = append(json.RawMessage(nil), raw...)
	}
	return c
}

// SnapshotManager keeps a bounded, newest-first history of snapshots.
// Creating a snapshot beyond capacity evicts the oldest one.
type SnapshotManager struct {
	mu       sync.RWMutex
	history  []DataSnapshot
	capacity int

	cache     *cacheState
	persister *persister
	logger    *slog.Logger
	now       func() time.Time
}

func newSnapshotManager(capacity int, cache *cacheState, p *persister, logger *slog.Logger, now func() time.Time) *SnapshotManager {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return &SnapshotManager{
		capacity:  capacity,
		cache:     cache,
		persister: p,
		logger:    logger,
		now:       now,
	}
}

// CreateSnapshot copies the named resource sets into a new snapshot. Types
// never loaded are captured as empty.
func (m *SnapshotManager) CreateSnapshot(description string, types []ResourceType) (DataSnapshot, error) {
	snap := DataSnapshot{
		ID:          uuid.Must(uuid.NewV7()).String(),
		CreatedAt:   m.now(),
		Description: description,
		Resources:   make(map[ResourceType]json.RawMessage, len(types)),
	}
	for _, rt := range types {
		set, ok := m.cache.get(rt)
		if !ok {
			snap.Resources[rt] = json.RawMessage("[]")
			continue
		}
		blob, err := set.encode()
		if err != nil {
			return DataSnapshot{}, syncErrors.E(
				syncErrors.OpSnapshot,
				syncErrors.Component("snapshots"),
				syncErrors.KindInternal,
				fmt.Errorf("encode %s: %w", rt, err),
			)
		}
		snap.Resources[rt] = blob
	}

	m.mu.Lock()
	m.history = append([]DataSnapshot{snap}, m.history...)
	var evicted []string
	for len(m.history) > m.capacity {
		evicted = append(evicted, m.history[len(m.history)-1].ID)
		m.history = m.history[:len(m.history)-1]
	}
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Debug("Snapshot created",
		"snapshot_id", snap.ID,
		"description", description,
		"resources", len(types),
		"evicted", evicted)
	return snap.clone(), nil
}

// RestoreSnapshot replaces every resource captured in the snapshot. All sets
// are decoded before any is swapped in, so a failure leaves the cache as it
// was.
func (m *SnapshotManager) RestoreSnapshot(id string) ([]ResourceType, error) {
	snap, ok := m.Get(id)
	if !ok {
		return nil, &syncErrors.SnapshotRestoreError{
			SnapshotID: id,
			Reason:     "unknown snapshot",
			Err: syncErrors.NewNotFoundError(syncErrors.OpRestore, "snapshots",
				fmt.Errorf("snapshot %s: %w", id, syncErrors.ErrNotFound)),
		}
	}

	decoded := make(map[ResourceType]resourceSet, len(snap.Resources))
	for rt, raw := range snap.Resources {
		set, err := decodeResource(rt, raw)
		if err != nil {
			m.logger.Error("Snapshot restore aborted, cache untouched",
				"snapshot_id", id,
				"resource", rt,
				"error", err)
			return nil, &syncErrors.SnapshotRestoreError{
				SnapshotID: id,
				Reason:     fmt.Sprintf("resource %s could not be decoded", rt),
				Err:        err,
			}
		}
		decoded[rt] = set
	}

	m.cache.replaceAll(decoded)
	m.logger.Info("Snapshot restored",
		"snapshot_id", id,
		"description", snap.Description,
		"resources", len(decoded))
	return snap.Types(), nil
}

// Get returns a copy of the snapshot with id.
func (m *SnapshotManager) Get(id string) (DataSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.history {
		if s.ID == id {
			return s.clone(), true
		}
	}
	return DataSnapshot{}, false
}

// ListSnapshots returns the retained snapshots, most recent first.
func (m *SnapshotManager) ListSnapshots() []DataSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DataSnapshot, len(m.history))
	for i, s := range m.history {
		out[i] = s.clone()
	}
	return out
}

func (m *SnapshotManager) persistLocked() {
	blob, err := json.Marshal(m.history)
	if err != nil {
		m.logger.Error("Failed to encode snapshot history", "error", err)
		return
	}
	m.persister.put(snapshotsKey, blob)
}

func (m *SnapshotManager) load(ctx context.Context, store PersistentStore) error {
	blob, ok, err := store.Read(ctx, snapshotsKey)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return nil
	}
	var history []DataSnapshot
	if err := json.Unmarshal(blob, &history); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("decode snapshots: %w", err))
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].CreatedAt.After(history[j].CreatedAt) })
	if len(history) > m.capacity {
		history = history[:m.capacity]
	}
	m.mu.Lock()
	m.history = history
	m.mu.Unlock()
	return nil
}
