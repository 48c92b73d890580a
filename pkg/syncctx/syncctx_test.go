package syncctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestExistsCache(t *testing.T) {
	sc := New(nil)
	key := models.Key{Kind: models.KindDeal, ExternalID: 42}

	_, known := sc.ExistsCached(key)
	assert.False(t, known)

	sc.SetExists(key, true)
	exists, known := sc.ExistsCached(key)
	assert.True(t, known)
	assert.True(t, exists)

	sc.SetExists(key, false)
	exists, known = sc.ExistsCached(key)
	assert.True(t, known)
	assert.False(t, exists)
}

func TestCycleDetection(t *testing.T) {
	sc := New(nil)
	deal := models.Key{Kind: models.KindDeal, ExternalID: 1}
	user := models.Key{Kind: models.KindUser, ExternalID: 7}

	require.NoError(t, sc.EnterImport(deal))
	require.NoError(t, sc.EnterImport(user))
	assert.True(t, sc.InProgress(deal))

	// Re-entering an in-flight import is a cycle.
	err := sc.EnterImport(deal)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicCall)

	sc.LeaveImport(deal)
	assert.False(t, sc.InProgress(deal))
	require.NoError(t, sc.EnterImport(deal))
}

func TestUpdateNeededDrain(t *testing.T) {
	sc := New(nil)
	deal := models.Key{Kind: models.KindDeal, ExternalID: 1}
	company := models.Key{Kind: models.KindCompany, ExternalID: 2}

	sc.MarkUpdateNeeded(deal)
	sc.MarkUpdateNeeded(company)

	// Already-updated entities never re-enter the queue.
	sc.MarkUpdated(deal)
	sc.MarkUpdateNeeded(deal)

	pending := sc.DrainUpdateNeeded()
	require.Len(t, pending, 1)
	assert.Equal(t, company, pending[0])

	assert.Empty(t, sc.DrainUpdateNeeded())
}

func TestMarkUpdatedClearsPending(t *testing.T) {
	sc := New(nil)
	key := models.Key{Kind: models.KindLead, ExternalID: 9}

	sc.MarkUpdateNeeded(key)
	sc.MarkUpdated(key)

	assert.True(t, sc.IsUpdated(key))
	assert.Empty(t, sc.DrainUpdateNeeded())
}

func TestReset(t *testing.T) {
	sc := New(nil)
	key := models.Key{Kind: models.KindDeal, ExternalID: 3}

	sc.SetExists(key, true)
	sc.MarkUpdated(key)
	require.NoError(t, sc.EnterImport(key))

	sc.Reset()

	_, known := sc.ExistsCached(key)
	assert.False(t, known)
	assert.False(t, sc.IsUpdated(key))
	assert.False(t, sc.InProgress(key))
}
