package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const timelineTable = "timeline_comments"

var timelineStruct = database.NewStruct(new(models.TimelineComment))

// TimelineRepository persists the derived timeline comment collection.
type TimelineRepository struct {
	*Repository
}

func NewTimelineRepository(db database.DB, logger ectologger.Logger) *TimelineRepository {
	return &TimelineRepository{Repository: NewRepository(db, logger)}
}

// Upsert writes a comment row keyed by external_id.
func (r *TimelineRepository) Upsert(ctx context.Context, sc *syncctx.Context, comment *models.TimelineComment) error {
	ctx, span := tracing.StartSpan(ctx, "TimelineRepository.Upsert")
	defer span.End()

	ib := timelineStruct.InsertInto(timelineTable, comment)
	ub := ib.OnConflict("external_id")
	ub.Set(
		ub.Assign("comment", comment.Comment),
		ub.Assign("author_id", comment.AuthorID),
		ub.Assign("is_deleted_in_bitrix", false),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)

	query, args := ib.Build()
	if _, err := sc.Tx().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": comment.ExternalID,
		}).Error("failed to upsert timeline comment")
		return err
	}
	return nil
}

// TombstoneMissing flags every local comment of the entity whose external_id
// is not in keep. The portal listing is the truth for this collection.
func (r *TimelineRepository) TombstoneMissing(ctx context.Context, sc *syncctx.Context, entityType string, entityExternalID int64, keep []int64) error {
	ctx, span := tracing.StartSpan(ctx, "TimelineRepository.TombstoneMissing")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(timelineTable)
	ub.Set(
		ub.Assign("is_deleted_in_bitrix", true),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	conditions := []string{
		ub.Equal("entity_type", entityType),
		ub.Equal("entity_external_id", entityExternalID),
	}
	if len(keep) > 0 {
		ids := make([]any, len(keep))
		for i, id := range keep {
			ids[i] = id
		}
		conditions = append(conditions, ub.NotIn("external_id", ids...))
	}
	ub.Where(conditions...)

	query, args := ub.Build()
	if _, err := sc.Tx().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type": entityType,
			"entity_id":   entityExternalID,
		}).Error("failed to tombstone timeline comments")
		return err
	}
	return nil
}

// ListByEntity returns the live comments of one entity.
func (r *TimelineRepository) ListByEntity(ctx context.Context, sc *syncctx.Context, entityType string, entityExternalID int64) ([]models.TimelineComment, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineRepository.ListByEntity")
	defer span.End()

	sb := timelineStruct.SelectFrom(timelineTable)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_external_id", entityExternalID),
		sb.Equal("is_deleted_in_bitrix", false),
	)
	sb.OrderBy("external_id")

	query, args := sb.Build()
	var comments []models.TimelineComment
	if err := sc.Tx().SelectContext(ctx, &comments, query, args...); err != nil {
		return nil, err
	}
	return comments, nil
}
