package reconcile

// Tracker records the field flips the policy decides on, keeping a minimal
// change set for the eventual DB and portal writes.
type Tracker struct {
	changes map[string]any
}

func NewTracker() *Tracker {
	return &Tracker{changes: make(map[string]any)}
}

// Set records a field flip.
func (t *Tracker) Set(field string, value any) {
	t.changes[field] = value
}

// HasChanges reports whether any field was flipped.
func (t *Tracker) HasChanges() bool {
	return len(t.changes) > 0
}

// Changed reports whether a specific field was flipped.
func (t *Tracker) Changed(field string) bool {
	_, ok := t.changes[field]
	return ok
}

// Changes returns a copy of the change set.
func (t *Tracker) Changes() map[string]any {
	out := make(map[string]any, len(t.changes))
	for field, value := range t.changes {
		out[field] = value
	}
	return out
}

// Merge folds in external diffs for fields the policy did not touch, so one
// DB write carries both.
func (t *Tracker) Merge(external map[string]any) map[string]any {
	out := t.Changes()
	for field, value := range external {
		if _, ok := out[field]; !ok {
			out[field] = value
		}
	}
	return out
}
