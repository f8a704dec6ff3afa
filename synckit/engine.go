package synckit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// EventType identifies what changed in the engine.
type EventType string

const (
	EventCacheUpdated        EventType = "cache_updated"
	EventQueueChanged        EventType = "queue_changed"
	EventConflictDetected    EventType = "conflict_detected"
	EventSyncCompleted       EventType = "sync_completed"
	EventSnapshotRestored    EventType = "snapshot_restored"
	EventConnectivityChanged EventType = "connectivity_changed"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType
	Resource   ResourceType
	ResourceID string
	ActionID   string
	SnapshotID string
	Online     bool
	Report     *CycleReport
	Time       time.Time
}

// SyncResult is the outcome of fetching one resource type.
type SyncResult struct {
	Resource  ResourceType `json:"resource"`
	Success   bool         `json:"success"`
	Records   int          `json:"records,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ActionFlagState is the UI-facing state of a queued action.
type ActionFlagState string

const (
	FlagQueued  ActionFlagState = "queued"
	FlagSyncing ActionFlagState = "syncing"
	FlagSynced  ActionFlagState = "synced"
	FlagFailed  ActionFlagState = "failed"
)

// ActionFlag lets a UI show per-action progress such as a spinner on a cart
// line. Flags are ephemeral and are cleared by maintenance once the action
// has left the queue.
type ActionFlag struct {
	ActionID     string          `json:"action_id"`
	Kind         ActionKind      `json:"kind"`
	ResourceType ResourceType    `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	State        ActionFlagState `json:"state"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Status is an aggregate view for status bars and the CLI.
type Status struct {
	Online         bool                 `json:"online"`
	Busy           bool                 `json:"busy"`
	PendingActions int                  `json:"pending_actions"`
	FailedActions  int                  `json:"failed_actions"`
	Conflicts      int                  `json:"conflicts"`
	Snapshots      int                  `json:"snapshots"`
	Resources      map[ResourceType]int `json:"resources"`
	LastSyncAt     time.Time            `json:"last_sync_at,omitempty"`
	LastResults    []SyncResult         `json:"last_results,omitempty"`
	PersistErrors  int64                `json:"persist_errors"`
}

// Engine owns the cache, queue, version tracker and snapshot history and
// coordinates them with the remote executor.
type Engine struct {
	cfg          Config
	store        PersistentStore
	executor     RemoteExecutor
	connectivity ConnectivityObserver
	metrics      MetricsCollector
	logger       *slog.Logger
	now          func() time.Time
	retry        *RetryConfig

	persister *persister
	cache     *cacheState
	queue     *ActionQueue
	conflicts *ConflictTracker
	snapshots *SnapshotManager

	flight singleflight.Group
	runMu  sync.Mutex
	busy   atomic.Int32
	cycle  atomic.Pointer[cycleCall]

	mu          sync.RWMutex
	closed      bool
	started     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	subscribers []func(Event)
	lastResults []SyncResult
	lastSyncAt  time.Time
	flags       map[string]ActionFlag
}

func newEngine(cfg Config, store PersistentStore, executor RemoteExecutor, conn ConnectivityObserver,
	metrics MetricsCollector, logger *slog.Logger, now func() time.Time, retry *RetryConfig) *Engine {
	p := newPersister(store, logger, metrics, cfg.RequestTimeout.Std())
	cache := newCacheState(p, logger, now)
	return &Engine{
		cfg:          cfg,
		store:        store,
		executor:     executor,
		connectivity: conn,
		metrics:      metrics,
		logger:       logger,
		now:          now,
		retry:        retry,
		persister:    p,
		cache:        cache,
		queue:        newActionQueue(cfg.Queue.MaxRetries, p, logger, now),
		conflicts:    newConflictTracker(p, logger, now),
		snapshots:    newSnapshotManager(cfg.SnapshotCapacity, cache, p, logger, now),
		flags:        make(map[string]ActionFlag),
	}
}

// Load rehydrates every structure from the persistent store. Call it once
// before Start.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.ensureOpen(syncErrors.OpLoad); err != nil {
		return err
	}
	e.logger.Info("Loading engine state from store")

	var errs []error
	for _, r := range e.cfg.Resources {
		if err := e.cache.load(ctx, e.store, r.Type); err != nil {
			e.logger.Error("Failed to load cached resource", "resource", r.Type, "error", err)
			errs = append(errs, err)
		}
	}
	if err := e.queue.load(ctx, e.store); err != nil {
		e.logger.Error("Failed to load offline queue", "error", err)
		errs = append(errs, err)
	}
	if err := e.conflicts.load(ctx, e.store); err != nil {
		e.logger.Error("Failed to load version tracker", "error", err)
		errs = append(errs, err)
	}
	if err := e.snapshots.load(ctx, e.store); err != nil {
		e.logger.Error("Failed to load snapshot history", "error", err)
		errs = append(errs, err)
	}
	if err := e.loadResults(ctx); err != nil {
		errs = append(errs, err)
	}

	pending, failed := e.queue.Counts()
	e.metrics.RecordQueueDepth(pending, failed)
	e.logger.Info("Engine state loaded",
		"pending_actions", pending,
		"failed_actions", failed,
		"conflicts", len(e.conflicts.Conflicts()),
		"snapshots", len(e.snapshots.ListSnapshots()))
	return errors.Join(errs...)
}

// Start launches the maintenance timer, the optional auto-sync timer and the
// connectivity subscription. They run until ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return syncErrors.New(syncErrors.OpSync, syncErrors.ErrClosed)
	}
	if e.started {
		e.mu.Unlock()
		return syncErrors.New(syncErrors.OpSync, fmt.Errorf("engine is already started"))
	}
	e.started = true
	stop := make(chan struct{})
	e.stop = stop

	e.logger.Info("Starting engine",
		"maintenance_interval", e.cfg.MaintenanceInterval.Std(),
		"sync_interval", e.cfg.SyncInterval.Std())

	e.wg.Add(1)
	go e.tick(ctx, stop, "maintenance", e.cfg.MaintenanceInterval.Std(), func(ctx context.Context) {
		e.RunMaintenance(ctx)
	})

	if e.cfg.SyncInterval > 0 {
		e.wg.Add(1)
		go e.tick(ctx, stop, "auto sync", e.cfg.SyncInterval.Std(), func(ctx context.Context) {
			if !e.IsOnline() {
				e.logger.Debug("Auto sync skipped while offline")
				return
			}
			if _, err := e.RunCycle(ctx); err != nil {
				e.logger.Warn("Auto sync cycle finished with errors", "error", err)
			}
		})
	}
	e.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		select {
		case <-stop:
		case <-ctx.Done():
		}
	}()
	e.connectivity.Subscribe(subCtx, func(online bool) {
		e.onConnectivityChange(subCtx, online)
	})
	return nil
}

func (e *Engine) tick(ctx context.Context, stop <-chan struct{}, name string, interval time.Duration, fn func(context.Context)) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		e.logger.Debug("Timer stopped", "timer", name)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						e.logger.Error("Timer task panic recovered", "timer", name, "panic", r)
					}
				}()
				fn(ctx)
			}()
		}
	}
}

func (e *Engine) onConnectivityChange(ctx context.Context, online bool) {
	e.logger.Info("Connectivity changed", "online", online)
	e.notify(Event{Type: EventConnectivityChanged, Online: online})
	if !online {
		return
	}
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	e.wg.Add(1)
	e.mu.RUnlock()
	go func() {
		defer e.wg.Done()
		if _, err := e.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("Reconnect cycle finished with errors", "error", err)
		}
	}()
}

// Close stops background work, flushes pending writes and closes the store.
func (e *Engine) Close() error {
	e.logger.Info("Closing engine")
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Debug("Engine already closed")
		return nil
	}
	e.closed = true
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.mu.Unlock()

	e.wg.Wait()

	var errs []error
	flushCtx, cancel := e.withTimeout(context.Background())
	if err := e.persister.flush(flushCtx); err != nil {
		e.logger.Error("Error flushing pending writes", "error", err)
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "persistence", err))
	}
	cancel()
	e.persister.close()

	if err := e.store.Close(); err != nil {
		e.logger.Error("Error closing store", "error", err)
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "store", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.logger.Info("Engine closed successfully")
	return nil
}

// Flush blocks until every scheduled write-through has been attempted.
func (e *Engine) Flush(ctx context.Context) error {
	return e.persister.flush(ctx)
}

// Subscribe registers fn for change notifications. Handlers run on their own
// goroutine; a panicking handler is logged and ignored.
func (e *Engine) Subscribe(fn func(Event)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return syncErrors.New(syncErrors.OpSync, syncErrors.ErrClosed)
	}
	e.subscribers = append(e.subscribers, fn)
	e.logger.Debug("New subscriber added", "total_subscribers", len(e.subscribers))
	return nil
}

func (e *Engine) notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.mu.RLock()
	subscribers := make([]func(Event), len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.mu.RUnlock()

	for _, handler := range subscribers {
		go func(h func(Event)) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Subscriber panic recovered", "panic", r, "event", ev.Type)
				}
			}()
			h(ev)
		}(handler)
	}
}

func (e *Engine) ensureOpen(op syncErrors.Operation) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return syncErrors.New(op, syncErrors.ErrClosed)
	}
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.RequestTimeout.Std())
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Queue exposes the offline action queue. Use RetryAction and RemoveAction
// to change actions so the version tracker stays in step.
func (e *Engine) Queue() *ActionQueue { return e.queue }

// RetryAction re-arms a failed action with a fresh retry budget. A tracked
// action counts as a pending edit of its record again.
func (e *Engine) RetryAction(id string) error {
	if err := e.ensureOpen(syncErrors.OpEnqueue); err != nil {
		return err
	}
	a, ok := e.queue.Get(id)
	if !ok {
		return syncErrors.NewNotFoundError(syncErrors.OpEnqueue, "queue",
			fmt.Errorf("action %s: %w", id, syncErrors.ErrNotFound))
	}
	if err := e.queue.Retry(id); err != nil {
		return err
	}
	if a.Tracked {
		var base int64
		if set, ok := e.cache.get(a.ResourceType); ok {
			base = set.version(a.ResourceID)
		}
		e.conflicts.resume(a.ResourceType, a.ResourceID, base)
	}
	a.Status = StatusPending
	e.setFlag(a, FlagQueued)
	e.notify(Event{Type: EventQueueChanged, ActionID: id})
	return nil
}

// RemoveAction drops an action without replaying it. It reports whether the
// action existed. In-flight actions cannot be removed.
func (e *Engine) RemoveAction(id string) (bool, error) {
	a, ok := e.queue.Get(id)
	if !ok {
		return false, nil
	}
	if a.Status == StatusProcessing {
		return false, syncErrors.NewConflictError(syncErrors.OpEnqueue,
			fmt.Errorf("action %s is being replayed", id))
	}
	if !e.queue.Remove(id) {
		return false, nil
	}
	if a.Tracked && a.Status != StatusFailed {
		e.conflicts.abandon(a.ResourceType, a.ResourceID)
	}
	e.mu.Lock()
	delete(e.flags, id)
	e.mu.Unlock()
	e.notify(Event{Type: EventQueueChanged, ActionID: id})
	return true, nil
}

// Tracker exposes the version tracker.
func (e *Engine) Tracker() *ConflictTracker { return e.conflicts }

// SnapshotHistory exposes the snapshot manager.
func (e *Engine) SnapshotHistory() *SnapshotManager { return e.snapshots }

func (e *Engine) Products() []Product           { return Records[Product](e, ResourceProducts) }
func (e *Engine) Orders() []Order               { return Records[Order](e, ResourceOrders) }
func (e *Engine) Categories() []Category        { return Records[Category](e, ResourceCategories) }
func (e *Engine) Cart() []CartItem              { return Records[CartItem](e, ResourceCart) }
func (e *Engine) Favorites() []Favorite         { return Records[Favorite](e, ResourceFavorites) }
func (e *Engine) CarBrands() []CarBrand         { return Records[CarBrand](e, ResourceCarBrands) }
func (e *Engine) CarModels() []CarModel         { return Records[CarModel](e, ResourceCarModels) }
func (e *Engine) ProductBrands() []ProductBrand { return Records[ProductBrand](e, ResourceProductBrands) }

// QueueLength is the number of actions not yet confirmed, failed included.
func (e *Engine) QueueLength() int { return e.queue.Len() }

// PendingActions returns every queued action in replay order.
func (e *Engine) PendingActions() []OfflineAction { return e.queue.All() }

func (e *Engine) Conflicts() []ResourceVersion { return e.conflicts.Conflicts() }

// LastSyncResults returns the per-resource results of the latest sync.
func (e *Engine) LastSyncResults() []SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncResult, len(e.lastResults))
	copy(out, e.lastResults)
	return out
}

func (e *Engine) IsOnline() bool { return e.connectivity.IsOnline() }

// IsBusy reports whether a drain or sync is running.
func (e *Engine) IsBusy() bool { return e.busy.Load() > 0 }

func (e *Engine) Snapshots() []DataSnapshot { return e.snapshots.ListSnapshots() }

// ActionFlags returns the current per-action UI flags ordered by action id.
func (e *Engine) ActionFlags() []ActionFlag {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ActionFlag, 0, len(e.flags))
	for _, f := range e.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionID < out[j].ActionID })
	return out
}

func (e *Engine) setFlag(a OfflineAction, state ActionFlagState) {
	e.mu.Lock()
	e.flags[a.ID] = ActionFlag{
		ActionID:     a.ID,
		Kind:         a.Kind,
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		State:        state,
		UpdatedAt:    e.now(),
	}
	e.mu.Unlock()
}

// Status aggregates the engine state.
func (e *Engine) Status() Status {
	pending, failed := e.queue.Counts()
	st := Status{
		Online:         e.IsOnline(),
		Busy:           e.IsBusy(),
		PendingActions: pending,
		FailedActions:  failed,
		Conflicts:      len(e.conflicts.Conflicts()),
		Snapshots:      len(e.snapshots.ListSnapshots()),
		Resources:      make(map[ResourceType]int),
		LastResults:    e.LastSyncResults(),
		PersistErrors:  e.persister.failureCount(),
	}
	for _, r := range e.cfg.Resources {
		if set, ok := e.cache.get(r.Type); ok {
			st.Resources[r.Type] = set.Len()
		}
	}
	e.mu.RLock()
	st.LastSyncAt = e.lastSyncAt
	e.mu.RUnlock()
	return st
}

// RestoreSnapshot applies a retained snapshot to the cache.
func (e *Engine) RestoreSnapshot(id string) error {
	if err := e.ensureOpen(syncErrors.OpRestore); err != nil {
		return err
	}
	types, err := e.snapshots.RestoreSnapshot(id)
	if err != nil {
		return err
	}
	for _, rt := range types {
		e.notify(Event{Type: EventCacheUpdated, Resource: rt})
	}
	e.notify(Event{Type: EventSnapshotRestored, SnapshotID: id})
	return nil
}

// CreateSnapshot checkpoints the configured snapshot types.
func (e *Engine) CreateSnapshot(description string) (DataSnapshot, error) {
	if err := e.ensureOpen(syncErrors.OpSnapshot); err != nil {
		return DataSnapshot{}, err
	}
	return e.snapshots.CreateSnapshot(description, e.cfg.SnapshotTypes)
}
