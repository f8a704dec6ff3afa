package synckit

import (
	"context"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// MaintenanceReport is the outcome of one maintenance pass.
type MaintenanceReport struct {
	PurgedActions  int
	PurgedVersions int
	ClearedFlags   int
}

// RunMaintenance purges stale actions and resolved version entries and
// clears UI flags of actions that have left the queue. Start runs it on the
// maintenance interval.
func (e *Engine) RunMaintenance(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport
	if ctx.Err() != nil || e.ensureOpen(syncErrors.OpSync) != nil {
		return report
	}

	q := e.cfg.Queue
	purged := e.queue.PurgeStale(q.MaxAgeDays, q.PurgeRetryThreshold)
	for _, a := range purged {
		// failed actions were already released when they parked
		if a.Tracked && a.Status != StatusFailed {
			e.conflicts.abandon(a.ResourceType, a.ResourceID)
		}
	}
	report.PurgedActions = len(purged)
	report.PurgedVersions = e.conflicts.PurgeResolved(e.cfg.ConflictRetention.Std())
	report.ClearedFlags = e.clearSettledFlags()

	pending, failed := e.queue.Counts()
	e.metrics.RecordQueueDepth(pending, failed)
	if report.PurgedActions > 0 {
		e.notify(Event{Type: EventQueueChanged})
	}

	e.logger.Debug("Maintenance completed",
		"purged_actions", report.PurgedActions,
		"purged_versions", report.PurgedVersions,
		"cleared_flags", report.ClearedFlags)
	return report
}

// clearSettledFlags drops flags whose action is no longer queued. Nothing is
// cleared while a drain or sync is running.
func (e *Engine) clearSettledFlags() int {
	if e.IsBusy() {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cleared := 0
	for id := range e.flags {
		if _, ok := e.queue.Get(id); !ok {
			delete(e.flags, id)
			cleared++
		}
	}
	return cleared
}
