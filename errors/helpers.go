package errors

import "errors"

// StoreFailure wraps an error from a key-value store as a retryable
// STORAGE_FAILURE raised by op in component. key names the persistence key
// involved and is empty for whole-table operations. A nil err stays nil.
func StoreFailure(err error, op, component, key string) error {
	if err == nil {
		return nil
	}
	e := &SyncError{
		Code:      ErrCodeStorageFailure,
		Kind:      KindStorage,
		Op:        Op(op),
		Component: component,
		Err:       err,
		Retryable: true,
	}
	if key != "" {
		e.WithMetadata("key", key)
	}
	return e
}

// StoreKey returns the outermost persistence key recorded on err.
func StoreKey(err error) (string, bool) {
	var se *SyncError
	for errors.As(err, &se) {
		if key, ok := se.Metadata["key"].(string); ok && key != "" {
			return key, true
		}
		err = se.Err
	}
	return "", false
}
