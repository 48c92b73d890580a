package ingest

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const timelineEntityDeal = "deal"

// SyncDealTimeline mirrors the portal's timeline comments for one deal:
// every listed comment is upserted, every local comment missing from the
// listing is tombstoned. It runs in its own transaction so it can be fired
// after the main sync commits; failures are logged and never propagate.
func (p *Pipeline) SyncDealTimeline(ctx context.Context, dealExternalID int64) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.SyncDealTimeline")
	defer span.End()

	logger := p.logger.WithContext(ctx).WithFields(map[string]any{
		"deal_id": dealExternalID,
	})

	items, err := bitrix.ListAllTimelineComments(ctx, p.caller, timelineEntityDeal, dealExternalID)
	if err != nil {
		logger.WithError(err).Warn("Timeline sync: portal listing failed")
		return
	}

	ctx, tx, err := database.GetTx(ctx, p.logger, p.db, nil)
	if err != nil {
		logger.WithError(err).Warn("Timeline sync: failed to open transaction")
		return
	}
	sc := syncctx.New(tx)

	keep := make([]int64, 0, len(items))
	for _, fields := range items {
		comment := bitrix.DecodeTimelineComment(fields, timelineEntityDeal, dealExternalID)
		if comment.ExternalID == 0 {
			continue
		}
		if err := p.stores.Timeline.Upsert(ctx, sc, comment); err != nil {
			logger.WithError(err).Warn("Timeline sync: upsert failed")
			_ = tx.Rollback(ctx)
			return
		}
		keep = append(keep, comment.ExternalID)
	}

	if err := p.stores.Timeline.TombstoneMissing(ctx, sc, timelineEntityDeal, dealExternalID, keep); err != nil {
		logger.WithError(err).Warn("Timeline sync: tombstone pass failed")
		_ = tx.Rollback(ctx)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		logger.WithError(err).Warn("Timeline sync: commit failed")
		return
	}

	logger.WithFields(map[string]any{
		"comments": len(keep),
	}).Debug("Timeline sync complete")

	p.emitSynced(ctx, models.KindTimelineComment, dealExternalID)
}
