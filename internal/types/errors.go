package types

import "fmt"

// ValidationError reports a rejected input before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a lookup of an unknown entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NetworkError wraps a transport-level failure. Retryable marks
// failures where the request may not have reached the server.
type NetworkError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("network failure during %s", e.Op)
	}
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConflictError reports a server rejection that rolled local state
// back to the last confirmed version.
type ConflictError struct {
	ItemID string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.ItemID, e.Reason)
}

// PersistenceError reports a local storage failure. These are
// non-fatal: the engine keeps running on in-memory state and retries
// the write on the next commit.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
