package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpStore,
			component: "persistence",
			code:      ErrCodePersistence,
			err:       fmt.Errorf("disk full"),
			want:      "store operation failed in persistence component [PERSISTENCE_FAILURE]: disk full",
		},
		{
			name:      "with component no code",
			op:        OpDrain,
			component: "queue",
			err:       fmt.Errorf("boom"),
			want:      "drain operation failed in queue component: boom",
		},
		{
			name: "without component with code",
			op:   OpExecute,
			code: ErrCodeNetworkFailure,
			err:  fmt.Errorf("connection refused"),
			want: "execute operation failed [NETWORK_FAILURE]: connection refused",
		},
		{
			name: "without component or code",
			op:   OpFetch,
			err:  fmt.Errorf("bad payload"),
			want: "fetch operation failed: bad payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SyncError{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("SyncError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewConnectivityError(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	syncErr := NewConnectivityError(OpExecute, cause)

	if syncErr.Code != ErrCodeNetworkFailure {
		t.Errorf("Code = %v, want %v", syncErr.Code, ErrCodeNetworkFailure)
	}
	if syncErr.Component != "transport" {
		t.Errorf("Component = %v, want transport", syncErr.Component)
	}
	if syncErr.Err != cause {
		t.Errorf("Err = %v, want %v", syncErr.Err, cause)
	}
	if !syncErr.Retryable {
		t.Error("connectivity errors must be retryable")
	}
	if !IsConnectivity(fmt.Errorf("wrapped: %w", syncErr)) {
		t.Error("IsConnectivity() = false for wrapped connectivity error")
	}
	if IsServerRejected(syncErr) {
		t.Error("IsServerRejected() = true for connectivity error")
	}
}

func TestNewServerRejectedError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{status: 400, retryable: false},
		{status: 409, retryable: false},
		{status: 429, retryable: true},
		{status: 503, retryable: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := NewServerRejectedError(OpExecute, tt.status, fmt.Errorf("rejected"))
			if !IsServerRejected(err) {
				t.Error("IsServerRejected() = false")
			}
			if IsConnectivity(err) {
				t.Error("IsConnectivity() = true for server rejection")
			}
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
			if got := StatusCode(fmt.Errorf("outer: %w", err)); got != tt.status {
				t.Errorf("StatusCode() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestNewPersistenceError(t *testing.T) {
	err := NewPersistenceError(OpEnqueue, "queue/actions", fmt.Errorf("disk full"))
	if !IsPersistence(err) {
		t.Error("IsPersistence() = false")
	}
	if err.Metadata["key"] != "queue/actions" {
		t.Errorf("Metadata[key] = %v", err.Metadata["key"])
	}
}

func TestNewStorageError(t *testing.T) {
	cause := fmt.Errorf("storage failure")
	syncErr := NewStorageError(OpStore, cause)

	if syncErr.Code != ErrCodeStorageFailure {
		t.Errorf("NewStorageError() Code = %v, want %v", syncErr.Code, ErrCodeStorageFailure)
	}
	if syncErr.Component != "store" {
		t.Errorf("NewStorageError() Component = %v, want %v", syncErr.Component, "store")
	}
	if !syncErr.Retryable {
		t.Error("NewStorageError() created non-retryable error")
	}
}

func TestNewConflictError(t *testing.T) {
	syncErr := NewConflictError(OpConflictResolve, fmt.Errorf("conflict detected"))

	if syncErr.Code != ErrCodeConflictFailure {
		t.Errorf("NewConflictError() Code = %v, want %v", syncErr.Code, ErrCodeConflictFailure)
	}
	if syncErr.Retryable {
		t.Error("NewConflictError() created retryable error when it shouldn't")
	}
}

func TestNotFound(t *testing.T) {
	err := NewNotFoundError(OpRestore, "snapshots", fmt.Errorf("snapshot abc: %w", ErrNotFound))
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false for NOT_FOUND error")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false")
	}
	if IsNotFound(fmt.Errorf("other")) {
		t.Error("IsNotFound() = true for plain error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "retryable sync error",
			err:  NewRetryable(OpSync, fmt.Errorf("temporary error")),
			want: true,
		},
		{
			name: "non-retryable sync error",
			err:  New(OpSync, fmt.Errorf("permanent error")),
			want: false,
		},
		{
			name: "non-sync error",
			err:  fmt.Errorf("regular error"),
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  fmt.Errorf("wrapped: %w", NewRetryable(OpSync, fmt.Errorf("temporary"))),
			want: true,
		},
		{
			name: "offline sentinel",
			err:  ErrOffline,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestE(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := E(Op("queue.Enqueue"), Component("synckit"), KindInvalid, cause, "payload must be JSON")

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatal("E() did not return a SyncError")
	}
	if syncErr.Op != "queue.Enqueue" || syncErr.Component != "synckit" || syncErr.Kind != KindInvalid {
		t.Errorf("unexpected fields: %+v", syncErr)
	}
	if !errors.Is(err, cause) {
		t.Error("E() lost the wrapped cause")
	}
	if syncErr.Retryable {
		t.Error("invalid errors must not be retryable")
	}

	inner := NewConnectivityError(OpExecute, cause)
	outer := E(Op("drain"), Component("engine"), inner)
	if !IsConnectivity(outer) {
		t.Error("E() hid the inner connectivity code")
	}
	if !IsRetryable(outer) {
		t.Error("E() dropped retryability of the inner error")
	}
}

func TestStoreFailure(t *testing.T) {
	if StoreFailure(nil, "op", "comp", "k") != nil {
		t.Error("StoreFailure(nil) != nil")
	}

	err := StoreFailure(fmt.Errorf("disk I/O error"), "sqlite.Write", "storage/sqlite", "cache/cart")
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatal("not a SyncError")
	}
	if syncErr.Op != "sqlite.Write" || syncErr.Component != "storage/sqlite" || syncErr.Kind != KindStorage {
		t.Errorf("unexpected fields: %+v", syncErr)
	}
	if !IsRetryable(err) {
		t.Error("store failures are retryable")
	}

	tests := []struct {
		name    string
		err     error
		wantKey string
	}{
		{name: "direct", err: err, wantKey: "cache/cart"},
		{name: "wrapped by persistence", err: NewPersistenceError(OpStore, "queue/actions", err), wantKey: "queue/actions"},
		{name: "keyless outer", err: E(OpLoad, Component("engine"), err), wantKey: "cache/cart"},
		{name: "whole table", err: StoreFailure(fmt.Errorf("locked"), "sqlite.Keys", "storage/sqlite", ""), wantKey: ""},
		{name: "plain error", err: fmt.Errorf("boom"), wantKey: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := StoreKey(tt.err)
			if key != tt.wantKey || ok != (tt.wantKey != "") {
				t.Errorf("StoreKey() = %q, %v; want %q", key, ok, tt.wantKey)
			}
		})
	}
}

func TestAggregateErrors(t *testing.T) {
	productsErr := NewConnectivityError(OpFetch, fmt.Errorf("timeout"))
	partial := &PartialSyncError{
		FailedResources: []string{"products"},
		Causes:          map[string]error{"products": productsErr},
	}
	if !IsConnectivity(partial) {
		t.Error("PartialSyncError should unwrap to its causes")
	}
	if got := partial.Error(); got != "partial sync failure: 1 resource(s) failed [products]" {
		t.Errorf("Error() = %q", got)
	}

	joined := errors.Join(partial, &DrainExhaustedError{FailedActionIDs: []string{"a1"}})
	var drain *DrainExhaustedError
	if !errors.As(joined, &drain) || drain.FailedActionIDs[0] != "a1" {
		t.Error("DrainExhaustedError not reachable through errors.Join")
	}

	restore := &SnapshotRestoreError{SnapshotID: "s1", Reason: "unknown snapshot", Err: ErrNotFound}
	if !errors.Is(restore, ErrNotFound) {
		t.Error("SnapshotRestoreError should match ErrNotFound")
	}
}
