package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOffline is returned when a cycle is requested while connectivity is down.
	ErrOffline = &SyncError{
		Op:        OpSync,
		Component: "engine",
		Code:      ErrCodeOffline,
		Kind:      KindUnavailable,
		Err:       errors.New("device is offline"),
		Retryable: true,
	}

	// ErrNotFound is the sentinel behind every NOT_FOUND SyncError.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by engine operations after Close.
	ErrClosed = errors.New("engine is closed")
)

// PartialSyncError reports the resource types whose fetch failed during a
// cycle. Resources that succeeded were still applied.
type PartialSyncError struct {
	FailedResources []string
	Causes          map[string]error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("partial sync failure: %d resource(s) failed [%s]",
		len(e.FailedResources), strings.Join(e.FailedResources, ", "))
}

// Unwrap exposes the per-resource causes to errors.Is / errors.As.
func (e *PartialSyncError) Unwrap() []error {
	out := make([]error, 0, len(e.Causes))
	for _, name := range e.FailedResources {
		if err := e.Causes[name]; err != nil {
			out = append(out, err)
		}
	}
	return out
}

// DrainExhaustedError lists the actions that reached their retry bound during
// a drain and are now parked as failed.
type DrainExhaustedError struct {
	FailedActionIDs []string
}

func (e *DrainExhaustedError) Error() string {
	return fmt.Sprintf("queue drain exhausted retries for %d action(s): %s",
		len(e.FailedActionIDs), strings.Join(e.FailedActionIDs, ", "))
}

// SnapshotRestoreError is returned when a snapshot cannot be applied. The
// cache is left untouched in that case.
type SnapshotRestoreError struct {
	SnapshotID string
	Reason     string
	Err        error
}

func (e *SnapshotRestoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("restore snapshot %s: %s: %v", e.SnapshotID, e.Reason, e.Err)
	}
	return fmt.Sprintf("restore snapshot %s: %s", e.SnapshotID, e.Reason)
}

func (e *SnapshotRestoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match a restore of an unknown id.
func (e *SnapshotRestoreError) Is(target error) bool {
	return target == ErrNotFound && errors.Is(e.Err, ErrNotFound)
}
