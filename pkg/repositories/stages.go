package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const stagesTable = "deal_stages"

var stageStruct = database.NewStruct(new(models.DealStage))

// StageRepository reads the precomputed funnel stage table.
type StageRepository struct {
	*Repository
}

func NewStageRepository(db database.DB, logger ectologger.Logger) *StageRepository {
	return &StageRepository{Repository: NewRepository(db, logger)}
}

// GetByStageID resolves a portal STAGE_ID string to its stage row.
func (r *StageRepository) GetByStageID(ctx context.Context, sc *syncctx.Context, stageID string) (*models.DealStage, error) {
	ctx, span := tracing.StartSpan(ctx, "StageRepository.GetByStageID")
	defer span.End()

	sb := stageStruct.SelectFrom(stagesTable)
	sb.Where(sb.Equal("external_id", stageID))

	query, args := sb.Build()
	var stage models.DealStage
	err := sc.Tx().GetContext(ctx, &stage, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("deal stage %q does not exist", stageID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get deal stage")
		return nil, err
	}
	return &stage, nil
}

// GetBySortOrder resolves a funnel position (1..13) to its stage row.
func (r *StageRepository) GetBySortOrder(ctx context.Context, sc *syncctx.Context, sortOrder int) (*models.DealStage, error) {
	ctx, span := tracing.StartSpan(ctx, "StageRepository.GetBySortOrder")
	defer span.End()

	sb := stageStruct.SelectFrom(stagesTable)
	sb.Where(sb.Equal("sort_order", sortOrder))

	query, args := sb.Build()
	var stage models.DealStage
	err := sc.Tx().GetContext(ctx, &stage, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("deal stage with sort order %d does not exist", sortOrder)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get deal stage")
		return nil, err
	}
	return &stage, nil
}

// ListOrdered returns all stages by funnel position.
func (r *StageRepository) ListOrdered(ctx context.Context, sc *syncctx.Context) ([]models.DealStage, error) {
	ctx, span := tracing.StartSpan(ctx, "StageRepository.ListOrdered")
	defer span.End()

	sb := stageStruct.SelectFrom(stagesTable)
	sb.OrderBy("sort_order")

	query, args := sb.Build()
	var stages []models.DealStage
	if err := sc.Tx().SelectContext(ctx, &stages, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list deal stages")
		return nil, err
	}
	return stages, nil
}
