package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrStillProcessing means another request holds the entity lock and the
// retry budget ran out; the webhook is skipped, not failed.
var ErrStillProcessing = errors.New("entity is still being processed")

// Result is the success answer of one processed webhook.
type Result struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

// Config tunes the webhook service.
type Config struct {
	LockLease  time.Duration
	LockPolicy redis.RetryPolicy

	// TestMode short-circuits deal webhooks whose id differs from
	// TestDealID. Off by default.
	TestMode   bool
	TestDealID int64
}

// Pipeline is the ingest surface the service drives. Satisfied by
// ingest.Pipeline.
type Pipeline interface {
	SyncDeal(ctx context.Context, sc *syncctx.Context, externalID int64) (*models.Deal, error)
	SyncEntity(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error
	Tombstone(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error
	SyncDealTimeline(ctx context.Context, dealExternalID int64)
}

// Service runs the webhook intake pipeline: dispatch by event, serialize on
// the entity id, ingest inside one transaction.
type Service struct {
	cfg      Config
	db       database.DB
	locker   *redis.Locker
	pipeline Pipeline
	logger   ectologger.Logger
}

func NewService(cfg Config, db database.DB, locker *redis.Locker, pipeline Pipeline, logger ectologger.Logger) *Service {
	if cfg.LockLease <= 0 {
		cfg.LockLease = 30 * time.Second
	}
	return &Service{
		cfg:      cfg,
		db:       db,
		locker:   locker,
		pipeline: pipeline,
		logger:   logger,
	}
}

type eventAction int

const (
	actionSync eventAction = iota
	actionDelete
)

// eventTarget resolves a portal event name to an entity kind and action.
func eventTarget(event string) (models.Kind, eventAction, error) {
	name := strings.ToUpper(event)

	action := actionSync
	if strings.HasSuffix(name, "DELETE") {
		action = actionDelete
		name = strings.TrimSuffix(name, "DELETE")
	} else {
		name = strings.TrimSuffix(name, "ADD")
		name = strings.TrimSuffix(name, "UPDATE")
	}

	switch name {
	case "ONCRMDEAL":
		return models.KindDeal, action, nil
	case "ONCRMLEAD":
		return models.KindLead, action, nil
	case "ONCRMCOMPANY":
		return models.KindCompany, action, nil
	case "ONCRMCONTACT":
		return models.KindContact, action, nil
	case "ONCRMPRODUCT":
		return models.KindProduct, action, nil
	case "ONUSER":
		return models.KindUser, action, nil
	default:
		return "", actionSync, fmt.Errorf("unsupported event %q", event)
	}
}

// Process handles one verified webhook payload.
func (s *Service) Process(ctx context.Context, payload *Payload) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Webhook.Process")
	defer span.End()

	kind, action, err := eventTarget(payload.Event)
	if err != nil {
		return nil, err
	}
	if payload.EntityID == 0 {
		return nil, fmt.Errorf("missing entity id")
	}

	if s.cfg.TestMode && kind == models.KindDeal && payload.EntityID != s.cfg.TestDealID {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"deal_id": payload.EntityID,
		}).Info("Test mode: skipping non-test deal")
		return s.success(payload, "skipped in test mode"), nil
	}

	lockKey := fmt.Sprintf("webhook:%s:%d", kind, payload.EntityID)
	err = s.locker.WithLock(ctx, lockKey, s.cfg.LockLease, s.cfg.LockPolicy, func(ctx context.Context) error {
		return s.handle(ctx, kind, action, payload.EntityID)
	})
	if errors.Is(err, redis.ErrLockMaxRetries) {
		return nil, ErrStillProcessing
	}
	if err != nil {
		return nil, err
	}

	message := "synchronized"
	if action == actionDelete {
		message = "tombstoned"
	}
	return s.success(payload, message), nil
}

func (s *Service) handle(ctx context.Context, kind models.Kind, action eventAction, externalID int64) error {
	ctx, tx, err := database.GetTx(ctx, s.logger, s.db, nil)
	if err != nil {
		return err
	}
	sc := syncctx.New(tx)

	defer func() {
		sc.Reset()
	}()

	var syncedDeal *models.Deal
	switch {
	case action == actionDelete:
		err = s.pipeline.Tombstone(ctx, sc, kind, externalID)
	case kind == models.KindDeal:
		syncedDeal, err = s.pipeline.SyncDeal(ctx, sc, externalID)
		if errors.Is(err, reconcile.ErrNotInMainFunnel) {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"deal_id": externalID,
			}).Info("Deal is outside the main funnel, nothing to reconcile")
			err = nil
		}
	default:
		err = s.pipeline.SyncEntity(ctx, sc, kind, externalID)
	}

	if err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			s.logger.WithContext(ctx).WithError(rollbackErr).Error("failed to rollback webhook transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Timeline mirrors after the main sync and never blocks the response.
	if syncedDeal != nil {
		go s.pipeline.SyncDealTimeline(context.WithoutCancel(ctx), syncedDeal.ExternalID)
	}
	return nil
}

func (s *Service) success(payload *Payload, message string) *Result {
	return &Result{
		Status:    "ok",
		Message:   message,
		Event:     payload.Event,
		Timestamp: time.Now().Unix(),
	}
}
