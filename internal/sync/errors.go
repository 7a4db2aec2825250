package sync

import "errors"

var (
	// ErrConnectivityUnavailable is set on offline cycles.
	ErrConnectivityUnavailable = errors.New("connectivity unavailable")
	// ErrConnectivityCheckFailed wraps a failing connectivity check.
	ErrConnectivityCheckFailed = errors.New("connectivity check failed")
	// ErrLocalReadFailed wraps a failing read of unsynced data.
	ErrLocalReadFailed = errors.New("read unsynced data")
	// ErrRemoteWriteFailed wraps a failing table upsert.
	ErrRemoteWriteFailed = errors.New("remote upsert failed")
	// ErrMarkSyncedFailed wraps a failing mark after a successful upsert.
	ErrMarkSyncedFailed = errors.New("mark synced failed")
	// ErrCallTimeout is returned when a collaborator misses its deadline.
	ErrCallTimeout = errors.New("call timed out")
	// ErrCyclePanic is returned when a collaborator panics.
	ErrCyclePanic = errors.New("collaborator panicked")
)
