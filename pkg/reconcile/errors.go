package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInMainFunnel short-circuits reconciliation for deals outside
	// category 0. Not a failure; the boundary answers success.
	ErrNotInMainFunnel = errors.New("deal is not in the main funnel")

	// ErrDealNotFound means the portal kept answering not-found even after
	// a refresh.
	ErrDealNotFound = errors.New("deal not found")
)

// InvalidStateError is raised when the portal copy disagrees with the
// DB-authoritative status; the portal has already been corrected.
type InvalidStateError struct {
	ExternalID int64
	DBStatus   string
	B24Status  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("deal %d status rolled back: portal had %q, db holds %q", e.ExternalID, e.B24Status, e.DBStatus)
}

// SyncError wraps a DB or portal write failure during reconciliation.
type SyncError struct {
	ExternalID int64
	Stage      string
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("deal %d sync failed at %s: %v", e.ExternalID, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
