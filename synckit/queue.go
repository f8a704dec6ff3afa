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

const queueKey = "queue/actions"

// ActionKind identifies what an offline action does on the server.
type ActionKind string

const (
	ActionCartAdd        ActionKind = "cart-add"
	ActionCartUpdate     ActionKind = "cart-update"
	ActionCartClear      ActionKind = "cart-clear"
	ActionOrderCreate    ActionKind = "order-create"
	ActionFavoriteToggle ActionKind = "favorite-toggle"
)

// ActionStatus is the replay state of an OfflineAction.
//
//	pending -> processing -> removed | pending (retry) | failed
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusProcessing ActionStatus = "processing"
	StatusFailed     ActionStatus = "failed"
)

// OfflineAction is a durable record of a mutation waiting to be replayed.
type OfflineAction struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Kind       ActionKind      `json:"kind"`
	Endpoint   string          `json:"endpoint"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Status     ActionStatus    `json:"status"`
	LastError  string          `json:"last_error,omitempty"`

	// ResourceType and ResourceID name the tracked record this action
	// mutates. Both are empty for actions outside conflict tracking.
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Tracked marks an action counted as a pending edit by the version
	// tracker.
	Tracked bool `json:"tracked,omitempty"`
}

// EnqueueOption customises a single Enqueue call.
type EnqueueOption func(*OfflineAction)

// ForResource ties the action to a tracked record.
func ForResource(rt ResourceType, id string) EnqueueOption {
	return func(a *OfflineAction) {
		a.ResourceType = rt
		a.ResourceID = id
	}
}

// Tracked marks the action as a pending edit of its record.
func Tracked() EnqueueOption {
	return func(a *OfflineAction) { a.Tracked = true }
}

// ActionQueue is the FIFO of offline actions. Order is fixed at enqueue time
// by a monotonic sequence number and never changes.
type ActionQueue struct {
	mu                sync.RWMutex
	actions           []*OfflineAction
	nextSeq           uint64
	defaultMaxRetries int

	persister *persister
	logger    *slog.Logger
	now       func() time.Time
}

func newActionQueue(defaultMaxRetries int, p *persister, logger *slog.Logger, now func() time.Time) *ActionQueue {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = DefaultMaxRetries
	}
	return &ActionQueue{
		defaultMaxRetries: defaultMaxRetries,
		persister:         p,
		logger:            logger,
		now:               now,
	}
}

// Enqueue appends a pending action and writes the queue through to the store
// before returning. A store failure does not undo the enqueue: the action is
// returned together with a PERSISTENCE_FAILURE error the caller may treat as
// a warning. payload may be nil, raw JSON bytes or any JSON-marshalable value.
func (q *ActionQueue) Enqueue(ctx context.Context, kind ActionKind, endpoint, method string, payload any, maxRetries int, opts ...EnqueueOption) (OfflineAction, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return OfflineAction{}, syncErrors.E(
			syncErrors.Op("queue.Enqueue"),
			syncErrors.Component("queue"),
			syncErrors.KindInvalid,
			err,
		)
	}
	if maxRetries <= 0 {
		maxRetries = q.defaultMaxRetries
	}

	q.mu.Lock()
	q.nextSeq++
	action := &OfflineAction{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Seq:        q.nextSeq,
		Kind:       kind,
		Endpoint:   endpoint,
		Method:     method,
		Payload:    raw,
		CreatedAt:  q.now(),
		MaxRetries: maxRetries,
		Status:     StatusPending,
	}
	for _, opt := range opts {
		opt(action)
	}
	q.actions = append(q.actions, action)
	snapshot := *action
	blob, encErr := q.encodeLocked()
	q.mu.Unlock()

	q.logger.Debug("Action enqueued",
		"action_id", snapshot.ID,
		"kind", snapshot.Kind,
		"endpoint", snapshot.Endpoint,
		"seq", snapshot.Seq)

	if encErr != nil {
		return snapshot, syncErrors.NewPersistenceError(syncErrors.OpEnqueue, queueKey, encErr)
	}
	if err := q.persister.writeNow(ctx, queueKey, blob); err != nil {
		q.logger.Warn("Action queued in memory only, persistence failed",
			"action_id", snapshot.ID,
			"error", err)
		return snapshot, err
	}
	return snapshot, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}

// Peek returns the oldest pending action without removing it.
func (q *ActionQueue) Peek() (OfflineAction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, a := range q.actions {
		if a.Status == StatusPending {
			return *a, true
		}
	}
	return OfflineAction{}, false
}

// Get returns a copy of the action with id.
func (q *ActionQueue) Get(id string) (OfflineAction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if a := q.findLocked(id); a != nil {
		return *a, true
	}
	return OfflineAction{}, false
}

// MarkProcessing moves a pending action to processing.
func (q *ActionQueue) MarkProcessing(id string) error {
	return q.transition(id, "queue.MarkProcessing", func(a *OfflineAction) error {
		if a.Status != StatusPending {
			return fmt.Errorf("action %s is %s, not pending", id, a.Status)
		}
		a.Status = StatusProcessing
		return nil
	})
}

// RecordFailure applies a failed replay attempt. When consume is true the
// retry budget is charged and the action parks as failed once it reaches
// MaxRetries; otherwise it simply returns to pending. The updated action is
// returned.
func (q *ActionQueue) RecordFailure(id string, cause error, consume bool) (OfflineAction, error) {
	var out OfflineAction
	err := q.transition(id, "queue.RecordFailure", func(a *OfflineAction) error {
		if a.Status == StatusFailed {
			return fmt.Errorf("action %s already failed", id)
		}
		if cause != nil {
			a.LastError = cause.Error()
		}
		if consume {
			a.RetryCount++
		}
		if a.RetryCount >= a.MaxRetries {
			a.RetryCount = a.MaxRetries
			a.Status = StatusFailed
		} else {
			a.Status = StatusPending
		}
		out = *a
		return nil
	})
	return out, err
}

// MarkFailed parks an action as failed regardless of its retry budget.
func (q *ActionQueue) MarkFailed(id string, cause error) error {
	return q.transition(id, "queue.MarkFailed", func(a *OfflineAction) error {
		if cause != nil {
			a.LastError = cause.Error()
		}
		a.Status = StatusFailed
		return nil
	})
}

// Retry re-arms a failed action with a fresh retry budget. It keeps its
// original position in the queue.
func (q *ActionQueue) Retry(id string) error {
	return q.transition(id, "queue.Retry", func(a *OfflineAction) error {
		if a.Status != StatusFailed {
			return fmt.Errorf("action %s is %s, only failed actions can be retried", id, a.Status)
		}
		a.Status = StatusPending
		a.RetryCount = 0
		a.LastError = ""
		return nil
	})
}

// Remove deletes an action. It reports whether the action existed.
func (q *ActionQueue) Remove(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, a := range q.actions {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.actions = append(q.actions[:idx], q.actions[idx+1:]...)
	q.persistLocked()
	q.mu.Unlock()
	return true
}

// CancelResource removes every pending or failed action targeting the given
// record and returns their ids. In-flight actions are left alone.
func (q *ActionQueue) CancelResource(rt ResourceType, id string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []string
	kept := q.actions[:0]
	for _, a := range q.actions {
		if a.ResourceType == rt && a.ResourceID == id && a.Status != StatusProcessing {
			removed = append(removed, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	q.actions = kept
	if len(removed) > 0 {
		q.persistLocked()
	}
	return removed
}

// PurgeStale removes actions older than maxAgeDays or whose retry count has
// reached retryThreshold and returns them. In-flight actions are never
// purged. A non-positive bound disables that criterion.
func (q *ActionQueue) PurgeStale(maxAgeDays, retryThreshold int) []OfflineAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	kept := q.actions[:0]
	var purged []OfflineAction
	for _, a := range q.actions {
		stale := maxAgeDays > 0 && a.CreatedAt.Before(cutoff)
		exhausted := retryThreshold > 0 && a.RetryCount >= retryThreshold
		if a.Status != StatusProcessing && (stale || exhausted) {
			purged = append(purged, *a)
			q.logger.Info("Purging stale action",
				"action_id", a.ID,
				"kind", a.Kind,
				"age", q.now().Sub(a.CreatedAt),
				"retry_count", a.RetryCount)
			continue
		}
		kept = append(kept, a)
	}
	q.actions = kept
	if len(purged) > 0 {
		q.persistLocked()
	}
	return purged
}

// Pending returns the pending actions in replay order.
func (q *ActionQueue) Pending() []OfflineAction {
	return q.filter(func(a *OfflineAction) bool { return a.Status == StatusPending })
}

// All returns every action in queue order.
func (q *ActionQueue) All() []OfflineAction {
	return q.filter(func(*OfflineAction) bool { return true })
}

func (q *ActionQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.actions)
}

// Counts returns the number of pending and failed actions.
func (q *ActionQueue) Counts() (pending, failed int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, a := range q.actions {
		switch a.Status {
		case StatusPending, StatusProcessing:
			pending++
		case StatusFailed:
			failed++
		}
	}
	return pending, failed
}

// PendingCount is the number of actions still eligible for replay.
func (q *ActionQueue) PendingCount() int {
	pending, _ := q.Counts()
	return pending
}

func (q *ActionQueue) filter(keep func(*OfflineAction) bool) []OfflineAction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]OfflineAction, 0, len(q.actions))
	for _, a := range q.actions {
		if keep(a) {
			out = append(out, *a)
		}
	}
	return out
}

func (q *ActionQueue) transition(id, op string, fn func(*OfflineAction) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	a := q.findLocked(id)
	if a == nil {
		return syncErrors.NewNotFoundError(syncErrors.Op(op), "queue",
			fmt.Errorf("action %s: %w", id, syncErrors.ErrNotFound))
	}
	if err := fn(a); err != nil {
		return syncErrors.E(syncErrors.Op(op), syncErrors.Component("queue"), syncErrors.KindInvalid, err)
	}
	q.persistLocked()
	return nil
}

func (q *ActionQueue) findLocked(id string) *OfflineAction {
	for _, a := range q.actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (q *ActionQueue) encodeLocked() ([]byte, error) {
	out := make([]OfflineAction, len(q.actions))
	for i, a := range q.actions {
		out[i] = *a
	}
	return json.Marshal(out)
}

func (q *ActionQueue) persistLocked() {
	blob, err := q.encodeLocked()
	if err != nil {
		q.logger.Error("Failed to encode queue", "error", err)
		return
	}
	q.persister.put(queueKey, blob)
}

// load restores the queue from the store. Actions caught mid-flight by a
// crash go back to pending; the server dedupes replays by action id.
func (q *ActionQueue) load(ctx context.Context, store PersistentStore) error {
	blob, ok, err := store.Read(ctx, queueKey)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return nil
	}
	var actions []OfflineAction
	if err := json.Unmarshal(blob, &actions); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("decode queue: %w", err))
	}
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Seq < actions[j].Seq })

	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = make([]*OfflineAction, 0, len(actions))
	recovered := 0
	for i := range actions {
		a := actions[i]
		if a.Status == StatusProcessing {
			a.Status = StatusPending
			recovered++
		}
		if a.Seq > q.nextSeq {
			q.nextSeq = a.Seq
		}
		q.actions = append(q.actions, &a)
	}
	if recovered > 0 {
		q.logger.Info("Recovered in-flight actions as pending", "count", recovered)
		q.persistLocked()
	}
	return nil
}
