package synckit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

const conflictsKey = "conflicts/versions"

// EditTemplate is enough of an action to replay the latest local edit of a
// record when the user chooses to keep the local version.
type EditTemplate struct {
	Kind     ActionKind      `json:"kind"`
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ResourceVersion tracks one locally edited record against the server.
//
// ServerVersion is the server version the pending local edits were made on
// top of. A server observation that differs from it while edits are still
// unconfirmed is a conflict.
type ResourceVersion struct {
	ResourceType    ResourceType  `json:"resource_type"`
	ResourceID      string        `json:"resource_id"`
	LocalVersion    int64         `json:"local_version"`
	ServerVersion   int64         `json:"server_version,omitempty"`
	ObservedVersion int64         `json:"observed_version,omitempty"`
	PendingEdits    int           `json:"pending_edits"`
	LastModified    time.Time     `json:"last_modified"`
	Conflict        bool          `json:"conflict"`
	LastEdit        *EditTemplate `json:"last_edit,omitempty"`
}

// HasServerVersion reports whether the server has ever reported a version.
func (v ResourceVersion) HasServerVersion() bool { return v.ServerVersion > 0 }

type versionKey struct {
	rt ResourceType
	id string
}

// ConflictTracker keeps a ResourceVersion for every record edited locally.
type ConflictTracker struct {
	mu       sync.RWMutex
	versions map[versionKey]*ResourceVersion

	persister *persister
	logger    *slog.Logger
	now       func() time.Time
}

func newConflictTracker(p *persister, logger *slog.Logger, now func() time.Time) *ConflictTracker {
	return &ConflictTracker{
		versions:  make(map[versionKey]*ResourceVersion),
		persister: p,
		logger:    logger,
		now:       now,
	}
}

// RecordLocalEdit bumps the local version of a record, creating the entry on
// first edit. base is the server version of the cached record the edit was
// made on, or zero when the record has never been fetched. It becomes the
// conflict base unless earlier edits are still pending.
func (t *ConflictTracker) RecordLocalEdit(rt ResourceType, id string, base int64, edit *EditTemplate) ResourceVersion {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := versionKey{rt, id}
	v, ok := t.versions[k]
	if !ok {
		v = &ResourceVersion{ResourceType: rt, ResourceID: id}
		t.versions[k] = v
	}
	if v.PendingEdits == 0 && base > 0 {
		v.ServerVersion = base
		v.ObservedVersion = base
		v.Conflict = false
	}
	v.LocalVersion++
	v.PendingEdits++
	v.LastModified = t.now()
	if edit != nil {
		v.LastEdit = edit
	}
	t.persistLocked()
	return *v
}

// ObserveServerVersion feeds a version seen in a fetched payload. It returns
// true when this observation put the record into conflict.
func (t *ConflictTracker) ObserveServerVersion(rt ResourceType, id string, serverVersion int64) bool {
	if serverVersion <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[versionKey{rt, id}]
	if !ok {
		return false
	}
	flagged := t.observeLocked(v, serverVersion)
	t.persistLocked()
	return flagged
}

// Acknowledge records that the server confirmed one of our own edits. The
// version it returned becomes the new base.
func (t *ConflictTracker) Acknowledge(rt ResourceType, id string, serverVersion int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[versionKey{rt, id}]
	if !ok {
		return
	}
	if v.PendingEdits > 0 {
		v.PendingEdits--
	}
	if serverVersion > 0 {
		v.ServerVersion = serverVersion
		v.ObservedVersion = serverVersion
	}
	v.LastModified = t.now()
	t.persistLocked()
}

// abandon records that one pending edit of rt/id left replay without being
// confirmed: purged, removed or parked as failed. With no edit left the
// server copy is authoritative again and an open conflict is cleared.
func (t *ConflictTracker) abandon(rt ResourceType, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[versionKey{rt, id}]
	if !ok || v.PendingEdits == 0 {
		return
	}
	v.PendingEdits--
	if v.PendingEdits == 0 {
		if v.ObservedVersion > 0 {
			v.ServerVersion = v.ObservedVersion
		}
		v.Conflict = false
	}
	v.LastModified = t.now()
	t.persistLocked()
}

// resume counts a failed edit that was re-armed for replay. base is the
// cached version of the record, used when the entry has no pending edit.
func (t *ConflictTracker) resume(rt ResourceType, id string, base int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := versionKey{rt, id}
	v, ok := t.versions[k]
	if !ok {
		v = &ResourceVersion{ResourceType: rt, ResourceID: id}
		t.versions[k] = v
	}
	if v.PendingEdits == 0 && base > 0 {
		v.ServerVersion = base
		v.ObservedVersion = base
	}
	v.PendingEdits++
	v.LastModified = t.now()
	t.persistLocked()
}

func (t *ConflictTracker) observeLocked(v *ResourceVersion, serverVersion int64) bool {
	v.ObservedVersion = serverVersion
	switch {
	case v.PendingEdits == 0:
		// Nothing unconfirmed locally: the server copy is authoritative.
		v.ServerVersion = serverVersion
		v.Conflict = false
		return false
	case !v.HasServerVersion():
		// The record was created locally and never fetched, so the first
		// version seen is the one the edits apply to.
		v.ServerVersion = serverVersion
		return false
	case serverVersion != v.ServerVersion:
		if !v.Conflict {
			t.logger.Info("Version conflict detected",
				"resource", v.ResourceType,
				"id", v.ResourceID,
				"base_version", v.ServerVersion,
				"server_version", serverVersion,
				"pending_edits", v.PendingEdits)
		}
		v.Conflict = true
		v.LastModified = t.now()
		return true
	default:
		return false
	}
}

// keepLocal clears the conflict and rebases the entry on the observed server
// version with exactly one pending edit: the re-asserted local state.
func (t *ConflictTracker) keepLocal(rt ResourceType, id string) (ResourceVersion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[versionKey{rt, id}]
	if !ok {
		return ResourceVersion{}, notTracked(rt, id)
	}
	if v.ObservedVersion > 0 {
		v.ServerVersion = v.ObservedVersion
	}
	v.Conflict = false
	v.PendingEdits = 1
	v.LocalVersion++
	v.LastModified = t.now()
	t.persistLocked()
	return *v, nil
}

// discard drops tracking for a record so the next sync wins.
func (t *ConflictTracker) discard(rt ResourceType, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := versionKey{rt, id}
	if _, ok := t.versions[k]; !ok {
		return notTracked(rt, id)
	}
	delete(t.versions, k)
	t.persistLocked()
	return nil
}

func notTracked(rt ResourceType, id string) error {
	return syncErrors.NewNotFoundError(syncErrors.OpConflictResolve, "conflicts",
		fmt.Errorf("%s/%s is not tracked: %w", rt, id, syncErrors.ErrNotFound))
}

// PurgeResolved drops entries with no conflict and no pending edit that were
// last touched more than maxAge ago.
func (t *ConflictTracker) PurgeResolved(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxAge)
	purged := 0
	for k, v := range t.versions {
		if !v.Conflict && v.PendingEdits == 0 && v.LastModified.Before(cutoff) {
			delete(t.versions, k)
			purged++
		}
	}
	if purged > 0 {
		t.persistLocked()
	}
	return purged
}

func (t *ConflictTracker) Get(rt ResourceType, id string) (ResourceVersion, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.versions[versionKey{rt, id}]
	if !ok {
		return ResourceVersion{}, false
	}
	return *v, true
}

// Conflicts returns the entries currently flagged, oldest change first.
func (t *ConflictTracker) Conflicts() []ResourceVersion {
	return t.list(func(v *ResourceVersion) bool { return v.Conflict })
}

func (t *ConflictTracker) All() []ResourceVersion {
	return t.list(func(*ResourceVersion) bool { return true })
}

// tracked lists the ids of rt that are being tracked.
func (t *ConflictTracker) tracked(rt ResourceType) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for k := range t.versions {
		if k.rt == rt {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *ConflictTracker) list(keep func(*ResourceVersion) bool) []ResourceVersion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ResourceVersion, 0, len(t.versions))
	for _, v := range t.versions {
		if keep(v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out
}

func (t *ConflictTracker) persistLocked() {
	out := make([]ResourceVersion, 0, len(t.versions))
	for _, v := range t.versions {
		out = append(out, *v)
	}
	blob, err := json.Marshal(out)
	if err != nil {
		t.logger.Error("Failed to encode version tracker", "error", err)
		return
	}
	t.persister.put(conflictsKey, blob)
}

func (t *ConflictTracker) load(ctx context.Context, store PersistentStore) error {
	blob, ok, err := store.Read(ctx, conflictsKey)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return nil
	}
	var entries []ResourceVersion
	if err := json.Unmarshal(blob, &entries); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("decode conflicts: %w", err))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions = make(map[versionKey]*ResourceVersion, len(entries))
	for i := range entries {
		e := entries[i]
		t.versions[versionKey{e.ResourceType, e.ResourceID}] = &e
	}
	return nil
}
