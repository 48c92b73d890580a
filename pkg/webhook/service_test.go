package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/syncctx"
)

type kindID struct {
	kind models.Kind
	id   int64
}

type fakePipeline struct {
	deal      *models.Deal
	dealErr   error
	entityErr error
	tombErr   error

	synced     []int64
	entities   []kindID
	tombstoned []kindID
	timelineCh chan int64
}

func (f *fakePipeline) SyncDeal(_ context.Context, _ *syncctx.Context, externalID int64) (*models.Deal, error) {
	f.synced = append(f.synced, externalID)
	if f.dealErr != nil {
		return nil, f.dealErr
	}
	if f.deal != nil {
		return f.deal, nil
	}
	return &models.Deal{ExternalID: externalID}, nil
}

func (f *fakePipeline) SyncEntity(_ context.Context, _ *syncctx.Context, kind models.Kind, externalID int64) error {
	f.entities = append(f.entities, kindID{kind: kind, id: externalID})
	return f.entityErr
}

func (f *fakePipeline) Tombstone(_ context.Context, _ *syncctx.Context, kind models.Kind, externalID int64) error {
	f.tombstoned = append(f.tombstoned, kindID{kind: kind, id: externalID})
	return f.tombErr
}

func (f *fakePipeline) SyncDealTimeline(_ context.Context, dealExternalID int64) {
	f.timelineCh <- dealExternalID
}

type serviceHarness struct {
	svc    *Service
	pipe   *fakePipeline
	mock   sqlmock.Sqlmock
	mr     *miniredis.Miniredis
	locker *redis.Locker
}

func newServiceHarness(t *testing.T, cfg Config) *serviceHarness {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), noopLogger())

	mr := miniredis.RunT(t)
	client := redis.NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), noopLogger())
	locker := redis.NewLocker(client, "")

	if cfg.LockPolicy.MaxRetries == 0 && cfg.LockPolicy.BaseDelay == 0 {
		cfg.LockPolicy = redis.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	}

	pipe := &fakePipeline{timelineCh: make(chan int64, 1)}
	return &serviceHarness{
		svc:    NewService(cfg, db, locker, pipe, noopLogger()),
		pipe:   pipe,
		mock:   mock,
		mr:     mr,
		locker: locker,
	}
}

func webhookPayload(event string, entityID int64) *Payload {
	return &Payload{
		Event:    event,
		TS:       time.Now().Unix(),
		EntityID: entityID,
	}
}

func TestProcessSyncsDeal(t *testing.T) {
	h := newServiceHarness(t, Config{})
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()

	result, err := h.svc.Process(context.Background(), webhookPayload("ONCRMDEALUPDATE", 42))
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "synchronized", result.Message)
	assert.Equal(t, []int64{42}, h.pipe.synced)

	// Timeline mirroring fires after the commit, off the request path.
	select {
	case dealID := <-h.pipe.timelineCh:
		assert.Equal(t, int64(42), dealID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeline sync was never started")
	}

	// The entity lock is released once processing ends.
	_, err = h.locker.Acquire(context.Background(), "webhook:deal:42", time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProcessTombstonesOnDelete(t *testing.T) {
	h := newServiceHarness(t, Config{})
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()

	result, err := h.svc.Process(context.Background(), webhookPayload("ONCRMCONTACTDELETE", 311))
	require.NoError(t, err)

	assert.Equal(t, "tombstoned", result.Message)
	assert.Equal(t, []kindID{{kind: models.KindContact, id: 311}}, h.pipe.tombstoned)
	assert.Empty(t, h.pipe.synced)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProcessSkipsWhenLockHeld(t *testing.T) {
	h := newServiceHarness(t, Config{})
	h.mr.Set("lock:webhook:deal:42", "other-holder")

	_, err := h.svc.Process(context.Background(), webhookPayload("ONCRMDEALUPDATE", 42))
	assert.ErrorIs(t, err, ErrStillProcessing)
	assert.Empty(t, h.pipe.synced)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProcessOutsideFunnelAnswersSuccess(t *testing.T) {
	h := newServiceHarness(t, Config{})
	h.pipe.dealErr = reconcile.ErrNotInMainFunnel
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()

	result, err := h.svc.Process(context.Background(), webhookPayload("ONCRMDEALADD", 43))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProcessRollsBackOnFailure(t *testing.T) {
	h := newServiceHarness(t, Config{})
	h.pipe.entityErr = errors.New("portal unreachable")
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()

	_, err := h.svc.Process(context.Background(), webhookPayload("ONCRMCOMPANYUPDATE", 9))
	assert.ErrorContains(t, err, "portal unreachable")
	// The failed transaction must actually reach the driver's rollback.
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProcessTestModeSkipsOtherDeals(t *testing.T) {
	h := newServiceHarness(t, Config{TestMode: true, TestDealID: 7})

	result, err := h.svc.Process(context.Background(), webhookPayload("ONCRMDEALUPDATE", 42))
	require.NoError(t, err)
	assert.Equal(t, "skipped in test mode", result.Message)
	assert.Empty(t, h.pipe.synced)
	assert.NoError(t, h.mock.ExpectationsWereMet())

	// The configured test deal still goes through.
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
	result, err = h.svc.Process(context.Background(), webhookPayload("ONCRMDEALUPDATE", 7))
	require.NoError(t, err)
	assert.Equal(t, "synchronized", result.Message)
	assert.Equal(t, []int64{7}, h.pipe.synced)
}

func TestProcessRejectsUnknownEvent(t *testing.T) {
	h := newServiceHarness(t, Config{})

	_, err := h.svc.Process(context.Background(), webhookPayload("ONTASKUPDATE", 1))
	assert.ErrorContains(t, err, "unsupported event")
}

func TestProcessRequiresEntityID(t *testing.T) {
	h := newServiceHarness(t, Config{})

	_, err := h.svc.Process(context.Background(), webhookPayload("ONCRMDEALUPDATE", 0))
	assert.ErrorContains(t, err, "missing entity id")
}
