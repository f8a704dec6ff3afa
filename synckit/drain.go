package synckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/cursor"
	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

const resultsKey = "sync/last_results"

// DrainReport summarises one pass over the offline queue.
type DrainReport struct {
	Attempted int      `json:"attempted"`
	Applied   []string `json:"applied,omitempty"`
	Retrying  []string `json:"retrying,omitempty"`
	Exhausted []string `json:"exhausted,omitempty"`

	// Paused is true when the drain stopped early on a connectivity failure.
	Paused    bool `json:"paused"`
	Remaining int  `json:"remaining"`
}

// CycleReport is the outcome of RunCycle.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	Drain      DrainReport   `json:"drain"`
	Results    []SyncResult  `json:"results"`

	// RollbackRecommended is set when failures outnumbered successes. The
	// snapshot taken at the start of the cycle is the rollback target.
	RollbackRecommended bool `json:"rollback_recommended"`
	RolledBack          bool `json:"rolled_back"`
}

// Tally counts successes and failures across the drain and the sync.
func (r CycleReport) Tally() (successes, failures int) {
	successes = len(r.Drain.Applied)
	failures = len(r.Drain.Exhausted) + len(r.Drain.Retrying)
	for _, res := range r.Results {
		if res.Success {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

// RunCycle checkpoints the cache, drains the offline queue and then syncs
// every configured resource. Concurrent calls join the cycle in flight.
//
// The returned error joins a DrainExhaustedError and a PartialSyncError when
// either applies; the report is returned in both cases.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if err := e.ensureOpen(syncErrors.OpSync); err != nil {
		return nil, err
	}
	if !e.IsOnline() {
		e.logger.Info("Sync cycle requested while offline")
		return nil, syncErrors.ErrOffline
	}

	v, err, shared := e.flight.Do("cycle", func() (interface{}, error) {
		call := &cycleCall{done: make(chan struct{})}
		e.cycle.Store(call)
		defer func() {
			e.cycle.CompareAndSwap(call, nil)
			close(call.done)
		}()
		e.runCycle(ctx, call)
		return call.report, errors.Join(call.drainErr, call.syncErr)
	})
	if shared {
		e.logger.Debug("Joined sync cycle already in flight")
	}
	report, _ := v.(*CycleReport)
	return report, err
}

// cycleCall is a RunCycle in flight. Drain and SyncResources calls made
// while it runs wait for it and take their share of its outcome.
type cycleCall struct {
	done     chan struct{}
	report   *CycleReport
	drainErr error
	syncErr  error
}

// joinCycle waits for the cycle in flight, if any. ok is false when no cycle
// is running.
func (e *Engine) joinCycle(ctx context.Context) (call *cycleCall, ok bool, err error) {
	call = e.cycle.Load()
	if call == nil {
		return nil, false, nil
	}
	select {
	case <-call.done:
		return call, true, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

func (e *Engine) runCycle(ctx context.Context, call *cycleCall) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.busy.Add(1)
	defer e.busy.Add(-1)

	start := time.Now()
	report := &CycleReport{StartedAt: e.now()}
	e.logger.Info("Starting sync cycle")

	snap, err := e.snapshots.CreateSnapshot("before sync cycle", e.cfg.SnapshotTypes)
	if err != nil {
		e.logger.Warn("Could not checkpoint cache before cycle", "error", err)
	} else {
		report.SnapshotID = snap.ID
	}

	drain, drainErr := e.drainLocked(ctx)
	report.Drain = drain

	results, syncErr := e.syncLocked(ctx, e.allTypes())
	report.Results = results
	report.Duration = time.Since(start)

	successes, failures := report.Tally()
	if failures > successes && report.SnapshotID != "" {
		report.RollbackRecommended = true
		e.logger.Warn("Cycle failures outnumber successes, rollback recommended",
			"snapshot_id", report.SnapshotID,
			"successes", successes,
			"failures", failures)
		if e.cfg.AutoRollback {
			if _, err := e.snapshots.RestoreSnapshot(report.SnapshotID); err != nil {
				e.logger.Error("Automatic rollback failed", "snapshot_id", report.SnapshotID, "error", err)
			} else {
				report.RolledBack = true
				e.notify(Event{Type: EventSnapshotRestored, SnapshotID: report.SnapshotID})
			}
		}
	}

	e.metrics.RecordSyncDuration("cycle", report.Duration)
	if drainErr != nil || syncErr != nil {
		e.metrics.RecordSyncErrors("cycle", "cycle_failure")
	}
	e.logger.Info("Sync cycle completed",
		"duration", report.Duration,
		"actions_applied", len(drain.Applied),
		"actions_exhausted", len(drain.Exhausted),
		"drain_paused", drain.Paused,
		"successes", successes,
		"failures", failures)
	e.notify(Event{Type: EventSyncCompleted, Report: report})

	call.report, call.drainErr, call.syncErr = report, drainErr, syncErr
}

// Drain replays pending actions in FIFO order without fetching resources.
// A call made while RunCycle is in flight waits for the cycle and returns
// its drain report instead of draining again.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	if err := e.ensureOpen(syncErrors.OpDrain); err != nil {
		return DrainReport{}, err
	}
	if !e.IsOnline() {
		return DrainReport{}, syncErrors.ErrOffline
	}
	if call, ok, err := e.joinCycle(ctx); ok {
		if err != nil {
			return DrainReport{}, err
		}
		e.logger.Debug("Drain joined the sync cycle in flight")
		return call.report.Drain, call.drainErr
	}
	v, err, _ := e.flight.Do("drain", func() (interface{}, error) {
		e.runMu.Lock()
		defer e.runMu.Unlock()
		e.busy.Add(1)
		defer e.busy.Add(-1)
		return e.drainLocked(ctx)
	})
	report, _ := v.(DrainReport)
	return report, err
}

func (e *Engine) drainLocked(ctx context.Context) (DrainReport, error) {
	start := time.Now()
	var report DrainReport
	defer func() {
		pending, failed := e.queue.Counts()
		report.Remaining = pending
		e.metrics.RecordQueueDepth(pending, failed)
		e.metrics.RecordSyncDuration("drain", time.Since(start))
	}()

	pending := e.queue.Pending()
	if len(pending) == 0 {
		e.logger.Debug("No pending actions to drain")
		return report, nil
	}
	e.logger.Debug("Draining offline queue", "pending", len(pending))

	policy := e.cfg.Drain
	for _, snapshot := range pending {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("Drain canceled", "applied", len(report.Applied), "error", err)
			return report, err
		}
		if !e.IsOnline() {
			e.logger.Info("Connectivity lost, pausing drain", "applied", len(report.Applied))
			report.Paused = true
			break
		}

		// Resolve may have cancelled the action since the pending list was taken.
		a, ok := e.queue.Get(snapshot.ID)
		if !ok || a.Status != StatusPending {
			continue
		}
		if err := e.queue.MarkProcessing(a.ID); err != nil {
			continue
		}
		e.setFlag(a, FlagSyncing)
		report.Attempted++

		resp, err := e.execute(ctx, Request{
			Method:         a.Method,
			Endpoint:       a.Endpoint,
			Body:           a.Payload,
			IdempotencyKey: a.ID,
		})
		if err == nil {
			e.applied(a, resp)
			report.Applied = append(report.Applied, a.ID)
			continue
		}

		if ctx.Err() != nil {
			_, _ = e.queue.RecordFailure(a.ID, err, false)
			e.setFlag(a, FlagQueued)
			return report, ctx.Err()
		}

		switch {
		case syncErrors.IsConnectivity(err):
			updated, _ := e.queue.RecordFailure(a.ID, err, policy.ConnectivityConsumesRetry)
			e.recordOutcome(updated, &report, "paused")
			if policy.StopOnConnectivityLoss {
				e.logger.Info("Connectivity failure, pausing drain",
					"action_id", a.ID,
					"kind", a.Kind,
					"error", err)
				report.Paused = true
				return report, e.exhaustedErr(report)
			}
		case policy.FailFastOnClientError && isClientRejection(err):
			_ = e.queue.MarkFailed(a.ID, err)
			updated, _ := e.queue.Get(a.ID)
			e.recordOutcome(updated, &report, "failed")
		default:
			updated, _ := e.queue.RecordFailure(a.ID, err, true)
			e.recordOutcome(updated, &report, "retry")
		}
	}

	return report, e.exhaustedErr(report)
}

func (e *Engine) recordOutcome(a OfflineAction, report *DrainReport, outcome string) {
	if a.Status == StatusFailed {
		report.Exhausted = append(report.Exhausted, a.ID)
		e.setFlag(a, FlagFailed)
		if a.Tracked {
			e.conflicts.abandon(a.ResourceType, a.ResourceID)
		}
		e.metrics.RecordActionOutcome(string(a.Kind), "failed")
		e.logger.Warn("Action exhausted its retries",
			"action_id", a.ID,
			"kind", a.Kind,
			"retry_count", a.RetryCount,
			"last_error", a.LastError)
		e.notify(Event{Type: EventQueueChanged, ActionID: a.ID})
		return
	}
	if outcome == "retry" {
		report.Retrying = append(report.Retrying, a.ID)
	}
	e.setFlag(a, FlagQueued)
	e.metrics.RecordActionOutcome(string(a.Kind), outcome)
	e.logger.Debug("Action will be retried",
		"action_id", a.ID,
		"kind", a.Kind,
		"retry_count", a.RetryCount,
		"max_retries", a.MaxRetries)
}

func (e *Engine) exhaustedErr(report DrainReport) error {
	if len(report.Exhausted) == 0 {
		return nil
	}
	ids := make([]string, len(report.Exhausted))
	copy(ids, report.Exhausted)
	return &syncErrors.DrainExhaustedError{FailedActionIDs: ids}
}

// applied removes a confirmed action and folds the server reply into the
// tracker and cache.
func (e *Engine) applied(a OfflineAction, resp *Response) {
	e.queue.Remove(a.ID)
	e.setFlag(a, FlagSynced)
	e.metrics.RecordActionOutcome(string(a.Kind), "applied")

	var serverVersion int64
	if resp != nil {
		serverVersion = resp.ServerVersion
	}
	if a.Tracked {
		e.conflicts.Acknowledge(a.ResourceType, a.ResourceID, serverVersion)
	}

	if a.Kind == ActionOrderCreate && resp != nil && len(resp.Body) > 0 {
		var order Order
		if err := json.Unmarshal(resp.Body, &order); err == nil && order.ID != "" {
			err := patchCollection(e.cache, ResourceOrders, func(c *Collection[Order]) *Collection[Order] {
				return c.Remove(a.ResourceID).Upsert(order)
			})
			if err != nil {
				e.logger.Warn("Could not swap local order for confirmed order", "error", err)
			} else {
				e.notify(Event{Type: EventCacheUpdated, Resource: ResourceOrders, ResourceID: order.ID})
			}
		}
	}

	e.logger.Debug("Action applied",
		"action_id", a.ID,
		"kind", a.Kind,
		"server_version", serverVersion)
	e.notify(Event{Type: EventQueueChanged, ActionID: a.ID})
}

func isClientRejection(err error) bool {
	if !syncErrors.IsServerRejected(err) {
		return false
	}
	status := syncErrors.StatusCode(err)
	return status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

func (e *Engine) execute(ctx context.Context, req Request) (*Response, error) {
	reqCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.executor.Execute(reqCtx, req)
}

// SyncResources fetches the given resource types, or every configured type
// when none are given. Each type succeeds or fails on its own; failures are
// reported in a PartialSyncError. A call made while RunCycle is in flight
// waits for the cycle and returns its results for the requested types.
func (e *Engine) SyncResources(ctx context.Context, types ...ResourceType) ([]SyncResult, error) {
	if err := e.ensureOpen(syncErrors.OpSync); err != nil {
		return nil, err
	}
	if !e.IsOnline() {
		return nil, syncErrors.ErrOffline
	}
	selected, err := e.selectTypes(types)
	if err != nil {
		return nil, err
	}

	if call, ok, err := e.joinCycle(ctx); ok {
		if err != nil {
			return nil, err
		}
		e.logger.Debug("Sync joined the sync cycle in flight")
		return cycleShare(call, selected)
	}

	names := make([]string, len(selected))
	for i, rt := range selected {
		names[i] = string(rt)
	}
	v, err, _ := e.flight.Do("sync:"+strings.Join(names, ","), func() (interface{}, error) {
		e.runMu.Lock()
		defer e.runMu.Unlock()
		e.busy.Add(1)
		defer e.busy.Add(-1)
		return e.syncLocked(ctx, selected)
	})
	results, _ := v.([]SyncResult)
	return results, err
}

// cycleShare picks the results for types out of a finished cycle. The
// cycle's sync error is passed on only when one of types failed or was not
// reached.
func cycleShare(call *cycleCall, types []ResourceType) ([]SyncResult, error) {
	byType := make(map[ResourceType]SyncResult, len(call.report.Results))
	for _, r := range call.report.Results {
		byType[r.Resource] = r
	}
	var out []SyncResult
	settled := true
	for _, rt := range types {
		r, ok := byType[rt]
		if !ok {
			settled = false
			continue
		}
		settled = settled && r.Success
		out = append(out, r)
	}
	if settled {
		return out, nil
	}
	return out, call.syncErr
}

func (e *Engine) allTypes() []ResourceType {
	out := make([]ResourceType, len(e.cfg.Resources))
	for i, r := range e.cfg.Resources {
		out[i] = r.Type
	}
	return out
}

// selectTypes keeps configuration order regardless of argument order.
func (e *Engine) selectTypes(types []ResourceType) ([]ResourceType, error) {
	if len(types) == 0 {
		return e.allTypes(), nil
	}
	want := make(map[ResourceType]bool, len(types))
	for _, rt := range types {
		if _, ok := e.cfg.Endpoint(rt); !ok {
			return nil, syncErrors.NewValidationError(syncErrors.OpSync,
				fmt.Errorf("resource %q is not configured", rt))
		}
		want[rt] = true
	}
	var out []ResourceType
	for _, rt := range e.allTypes() {
		if want[rt] {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (e *Engine) syncLocked(ctx context.Context, types []ResourceType) ([]SyncResult, error) {
	start := time.Now()
	results := make([]SyncResult, 0, len(types))
	partial := &syncErrors.PartialSyncError{Causes: make(map[string]error)}

	var ctxErr error
	for _, rt := range types {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("Resource sync canceled", "completed", len(results), "total", len(types))
			ctxErr = err
			break
		}
		res, err := e.syncResource(ctx, rt)
		results = append(results, res)
		if err != nil {
			partial.FailedResources = append(partial.FailedResources, string(rt))
			partial.Causes[string(rt)] = err
		}
	}

	e.mu.Lock()
	e.lastResults = results
	e.lastSyncAt = e.now()
	e.mu.Unlock()
	e.persistResults()
	e.metrics.RecordSyncDuration("sync", time.Since(start))

	var errs []error
	if len(partial.FailedResources) > 0 {
		e.logger.Warn("Partial sync failure",
			"failed_resources", partial.FailedResources,
			"succeeded", len(results)-len(partial.FailedResources))
		errs = append(errs, partial)
	}
	if ctxErr != nil {
		errs = append(errs, ctxErr)
	}
	return results, errors.Join(errs...)
}

func (e *Engine) syncResource(ctx context.Context, rt ResourceType) (SyncResult, error) {
	start := time.Now()
	result := SyncResult{Resource: rt}
	fail := func(err error) (SyncResult, error) {
		result.Error = err.Error()
		result.Timestamp = e.now()
		e.metrics.RecordResourceSync(string(rt), false, 0)
		e.metrics.RecordSyncErrors("fetch", classifyError(err))
		e.logger.Warn("Resource sync failed, keeping cached data", "resource", rt, "error", err)
		return result, err
	}

	rc, _ := e.cfg.resource(rt)
	set, pages, err := e.fetchResource(ctx, rc)
	if err != nil {
		return fail(err)
	}

	e.cache.replace(rt, set)
	flagged := e.observeVersions(rt, set)

	result.Success = true
	result.Records = set.Len()
	result.Timestamp = e.now()
	e.metrics.RecordResourceSync(string(rt), true, set.Len())
	e.metrics.RecordSyncDuration("fetch", time.Since(start))
	e.logger.Debug("Resource synced",
		"resource", rt,
		"records", set.Len(),
		"pages", pages,
		"conflicts", flagged,
		"duration", time.Since(start))
	e.notify(Event{Type: EventCacheUpdated, Resource: rt})
	return result, nil
}

// fetchResource downloads the full listing of rc, walking skip/limit pages
// when rc has a page size. Every page is retried on its own.
func (e *Engine) fetchResource(ctx context.Context, rc ResourceConfig) (resourceSet, int, error) {
	get := func(endpoint string) (resourceSet, []byte, error) {
		var resp *Response
		err := e.withRetry(ctx, func() error {
			r, err := e.execute(ctx, Request{Method: http.MethodGet, Endpoint: endpoint})
			resp = r
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		set, err := decodeResource(rc.Type, resp.Body)
		if err != nil {
			return nil, nil, syncErrors.NewValidationError(syncErrors.OpFetch, err)
		}
		return set, resp.Body, nil
	}

	if rc.PageSize <= 0 {
		set, _, err := get(rc.Endpoint)
		return set, 1, err
	}

	var all resourceSet
	pages, err := cursor.Walk(cursor.First(rc.PageSize), func(page cursor.Offset) (int, int, error) {
		endpoint, err := page.Apply(rc.Endpoint)
		if err != nil {
			return 0, 0, syncErrors.NewValidationError(syncErrors.OpFetch, err)
		}
		set, body, err := get(endpoint)
		if err != nil {
			return 0, 0, err
		}
		if all == nil {
			all = set
		} else if all, err = all.concat(set); err != nil {
			return 0, 0, syncErrors.NewValidationError(syncErrors.OpFetch, err)
		}
		return set.Len(), cursor.Total(body), nil
	})
	if err != nil {
		return nil, pages, err
	}
	return all, pages, nil
}

// observeVersions feeds server versions of tracked records to the tracker
// and returns how many were newly flagged.
func (e *Engine) observeVersions(rt ResourceType, set resourceSet) int {
	flagged := 0
	for _, id := range e.conflicts.tracked(rt) {
		v := set.version(id)
		if v <= 0 {
			continue
		}
		if e.conflicts.ObserveServerVersion(rt, id, v) {
			flagged++
			e.notify(Event{Type: EventConflictDetected, Resource: rt, ResourceID: id})
		}
	}
	if flagged > 0 {
		e.metrics.RecordConflicts(len(e.conflicts.Conflicts()))
	}
	return flagged
}

type persistedResults struct {
	Results    []SyncResult `json:"results"`
	LastSyncAt time.Time    `json:"last_sync_at"`
}

func (e *Engine) persistResults() {
	e.mu.RLock()
	blob, err := json.Marshal(persistedResults{Results: e.lastResults, LastSyncAt: e.lastSyncAt})
	e.mu.RUnlock()
	if err != nil {
		e.logger.Error("Failed to encode sync results", "error", err)
		return
	}
	e.persister.put(resultsKey, blob)
}

func (e *Engine) loadResults(ctx context.Context) error {
	blob, ok, err := e.store.Read(ctx, resultsKey)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return nil
	}
	var pr persistedResults
	if err := json.Unmarshal(blob, &pr); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("decode sync results: %w", err))
	}
	e.mu.Lock()
	e.lastResults = pr.Results
	e.lastSyncAt = pr.LastSyncAt
	e.mu.Unlock()
	return nil
}
