package syncctx

import (
	"errors"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ErrCyclicCall is returned when an import re-enters an entity whose import
// is already on the stack of the same request.
var ErrCyclicCall = errors.New("cyclic import call")

// Context carries the per-request coordination state shared by repositories
// and the ingest layer: the open transaction, memoized existence answers and
// the progress sets used for cycle detection. A Context belongs to a single
// request goroutine and is not safe for concurrent use.
type Context struct {
	tx database.Tx

	exists       map[models.Key]bool
	updated      map[models.Key]struct{}
	inProgress   map[models.Key]struct{}
	updateNeeded map[models.Key]struct{}
}

func New(tx database.Tx) *Context {
	return &Context{
		tx:           tx,
		exists:       make(map[models.Key]bool),
		updated:      make(map[models.Key]struct{}),
		inProgress:   make(map[models.Key]struct{}),
		updateNeeded: make(map[models.Key]struct{}),
	}
}

// Tx returns the transaction the whole request runs in.
func (c *Context) Tx() database.Tx {
	return c.tx
}

// ExistsCached returns the memoized existence answer for key, if any.
func (c *Context) ExistsCached(key models.Key) (exists, known bool) {
	exists, known = c.exists[key]
	return exists, known
}

// SetExists records an existence answer. Repositories call it after each DB
// probe, and after creates and tombstones, so repeated related-entity checks
// in one request hit the map instead of the DB.
func (c *Context) SetExists(key models.Key, exists bool) {
	c.exists[key] = exists
}

// MarkUpdated records that key was already refreshed in this request.
// Subsequent imports of the same key become no-ops.
func (c *Context) MarkUpdated(key models.Key) {
	c.updated[key] = struct{}{}
	delete(c.updateNeeded, key)
}

func (c *Context) IsUpdated(key models.Key) bool {
	_, ok := c.updated[key]
	return ok
}

// EnterImport marks key as having an import in flight. It fails with
// ErrCyclicCall when the key is already in flight, which breaks
// mutually-referencing imports instead of recursing forever.
func (c *Context) EnterImport(key models.Key) error {
	if _, ok := c.inProgress[key]; ok {
		return fmt.Errorf("%w: %s/%d", ErrCyclicCall, key.Kind, key.ExternalID)
	}
	c.inProgress[key] = struct{}{}
	return nil
}

// LeaveImport clears the in-flight mark set by EnterImport.
func (c *Context) LeaveImport(key models.Key) {
	delete(c.inProgress, key)
}

// InProgress reports whether an import of key is on the current stack.
func (c *Context) InProgress(key models.Key) bool {
	_, ok := c.inProgress[key]
	return ok
}

// MarkUpdateNeeded defers a refresh of key to the end of the request. Used
// when a related entity exists but was seen stale while its own import was
// in flight.
func (c *Context) MarkUpdateNeeded(key models.Key) {
	if c.IsUpdated(key) {
		return
	}
	c.updateNeeded[key] = struct{}{}
}

// DrainUpdateNeeded returns the deferred keys and clears the set.
func (c *Context) DrainUpdateNeeded() []models.Key {
	if len(c.updateNeeded) == 0 {
		return nil
	}
	keys := make([]models.Key, 0, len(c.updateNeeded))
	for key := range c.updateNeeded {
		keys = append(keys, key)
	}
	c.updateNeeded = make(map[models.Key]struct{})
	return keys
}

// Reset drops all memoized state but keeps the transaction. Called between
// retries of the same request.
func (c *Context) Reset() {
	c.exists = make(map[models.Key]bool)
	c.updated = make(map[models.Key]struct{})
	c.inProgress = make(map[models.Key]struct{})
	c.updateNeeded = make(map[models.Key]struct{})
}
