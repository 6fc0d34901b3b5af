package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// PersistenceError wraps a failed store operation. Persistence failures are
// fatal to a run (the store is in an unexpected state) unless transient, in
// which case the current batch may be retried with bounded attempts.
type PersistenceError struct {
	Op     string
	SiteID string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.SiteID != "" {
		return fmt.Sprintf("failed to %s for site %s: %v", e.Op, e.SiteID, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is a timeout or connection loss that
// justifies retrying the current batch.
func (e *PersistenceError) Transient() bool {
	return IsTransient(e.Err)
}

// Postgres error classes/codes that warrant a retry.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57014": true, // query_canceled (statement timeout)
	"53300": true, // too_many_connections
}

// IsTransient classifies an error as a retryable timeout or connection
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if transientPgCodes[code] {
			return true
		}
		// Class 08: connection exceptions.
		return pqErr.Code.Class() == "08"
	}

	return false
}
