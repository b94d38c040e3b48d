package syncclient

import (
	"errors"
	"fmt"
)

// SyncError is returned by Send when a batch was not acknowledged.
// StatusCode is 0 for transport failures (connection refused, timeout...).
type SyncError struct {
	Endpoint   string
	StatusCode int
	Records    int
	Batch      string
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("sync %s to %s (%d records): %v", e.Batch, e.Endpoint, e.Records, e.Err)
	}
	return fmt.Sprintf("sync %s to %s (%d records): HTTP %d: %s", e.Batch, e.Endpoint, e.Records, e.StatusCode, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transport reports whether the request never got an HTTP response.
func (e *SyncError) Transport() bool {
	return e.StatusCode == 0
}

// IsStatus returns true if err (or any wrapped error) is a SyncError with the given status code.
func IsStatus(err error, code int) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.StatusCode == code
	}
	return false
}
