// Package errors provides the structured error types used across the offline kit.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeServerRejected    ErrorCode = "SERVER_REJECTED"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodePersistence       ErrorCode = "PERSISTENCE_FAILURE"
	ErrCodeConflictFailure   ErrorCode = "CONFLICT_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeSnapshotRestore   ErrorCode = "SNAPSHOT_RESTORE_FAILED"
	ErrCodeOffline           ErrorCode = "OFFLINE"
)

// Operation represents the kind of engine operation that failed
type Operation string

const (
	OpSync            Operation = "sync"
	OpDrain           Operation = "drain"
	OpFetch           Operation = "fetch"
	OpExecute         Operation = "execute"
	OpEnqueue         Operation = "enqueue"
	OpStore           Operation = "store"
	OpLoad            Operation = "load"
	OpSnapshot        Operation = "snapshot"
	OpRestore         Operation = "restore"
	OpConflictResolve Operation = "conflict_resolve"
	OpTransport       Operation = "transport"
	OpClose           Operation = "close"
)

// Kind classifies an error independently of the operation that produced it.
type Kind string

const (
	KindInvalid     Kind = "invalid"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindNetwork     Kind = "network"
	KindRejected    Kind = "rejected"
	KindStorage     Kind = "storage"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Component names the subsystem that produced an error. It is a distinct type
// so that E can tell it apart from a plain message string.
type Component string

// Op converts a string into an Operation for use with E.
func Op(s string) Operation { return Operation(s) }

// SyncError represents an error that occurred inside the offline kit
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "queue", "executor")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	Kind Kind

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a key/value pair and returns the receiver.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// E builds a SyncError from a variadic list of Operation, Component, Kind,
// ErrorCode, error and string arguments. Strings are treated as extra context
// and joined into the wrapped error message. Unknown argument types are ignored.
func E(args ...interface{}) error {
	e := &SyncError{}
	var notes []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case *SyncError:
			e.Err = a
			if e.Kind == "" {
				e.Kind = a.Kind
			}
			if e.Code == "" {
				e.Code = a.Code
			}
			e.Retryable = e.Retryable || a.Retryable
		case error:
			e.Err = a
		case string:
			notes = append(notes, a)
		}
	}
	if len(notes) > 0 {
		msg := strings.Join(notes, "; ")
		if e.Err == nil {
			e.Err = errors.New(msg)
		} else {
			e.Err = fmt.Errorf("%w (%s)", e.Err, msg)
		}
	}
	if e.Err == nil {
		e.Err = errors.New("unknown error")
	}
	switch e.Kind {
	case KindNetwork, KindUnavailable:
		e.Retryable = true
	}
	return e
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Kind:      KindStorage,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewPersistenceError reports a failed write-through to the persistent store.
// The in-memory state is still authoritative when this is returned.
func NewPersistenceError(op Operation, key string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodePersistence,
		Kind:      KindStorage,
		Op:        op,
		Component: "persistence",
		Err:       cause,
		Retryable: true,
		Metadata:  map[string]interface{}{"key": key},
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflictFailure,
		Kind:      KindConflict,
		Op:        op,
		Component: "conflicts",
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Kind:      KindInvalid,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewConnectivityError reports that the remote could not be reached: DNS,
// dial, reset or timeout. These never carry a server verdict.
func NewConnectivityError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Kind:      KindNetwork,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError is kept as an alias of NewConnectivityError.
func NewNetworkError(op Operation, cause error) *SyncError {
	return NewConnectivityError(op, cause)
}

// NewServerRejectedError reports a response the server answered with a
// non-success status.
func NewServerRejectedError(op Operation, status int, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeServerRejected,
		Kind:      KindRejected,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: status >= 500 || status == 429,
		Metadata:  map[string]interface{}{"status_code": status},
	}
}

// NewNotFoundError creates a SyncError for a missing entity.
func NewNotFoundError(op Operation, component string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNotFound,
		Kind:      KindNotFound,
		Op:        op,
		Component: component,
		Err:       cause,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsConnectivity reports whether err (or anything it wraps) is a connectivity failure.
func IsConnectivity(err error) bool {
	return hasCode(err, ErrCodeNetworkFailure)
}

// IsServerRejected reports whether the server answered with an error status.
func IsServerRejected(err error) bool {
	return hasCode(err, ErrCodeServerRejected)
}

// IsPersistence reports whether err is a non-fatal write-through failure.
func IsPersistence(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsNotFound reports whether err describes a missing entity.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return hasCode(err, ErrCodeNotFound)
}

// StatusCode returns the HTTP status attached to a server rejection, or 0.
func StatusCode(err error) int {
	var syncErr *SyncError
	for errors.As(err, &syncErr) {
		if syncErr.Metadata != nil {
			if code, ok := syncErr.Metadata["status_code"].(int); ok {
				return code
			}
		}
		err = syncErr.Err
	}
	return 0
}

// hasCode walks the whole chain since E nests SyncErrors.
func hasCode(err error, code ErrorCode) bool {
	var syncErr *SyncError
	for errors.As(err, &syncErr) {
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Err
	}
	return false
}
