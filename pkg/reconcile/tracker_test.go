package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerSetAndChanged(t *testing.T) {
	tracker := NewTracker()
	assert.False(t, tracker.HasChanges())

	tracker.Set("status_deal", "NEW")
	assert.True(t, tracker.HasChanges())
	assert.True(t, tracker.Changed("status_deal"))
	assert.False(t, tracker.Changed("stage_id"))
}

func TestTrackerChangesReturnsCopy(t *testing.T) {
	tracker := NewTracker()
	tracker.Set("stage_id", "NEW")

	changes := tracker.Changes()
	changes["stage_id"] = "MUTATED"

	assert.Equal(t, "NEW", tracker.Changes()["stage_id"])
}

func TestTrackerMergePrefersPolicy(t *testing.T) {
	tracker := NewTracker()
	tracker.Set("stage_id", "PREPARATION")

	merged := tracker.Merge(map[string]any{
		"stage_id": "EXECUTING",
		"title":    "Новый заголовок",
	})

	assert.Equal(t, "PREPARATION", merged["stage_id"])
	assert.Equal(t, "Новый заголовок", merged["title"])
	// Merge does not grow the tracked change set.
	assert.False(t, tracker.Changed("title"))
}
