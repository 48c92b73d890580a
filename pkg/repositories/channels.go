package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	channelsTable     = "communication_channels"
	channelTypesTable = "communication_channel_types"
)

var channelStruct = database.NewStruct(new(models.CommunicationChannel))

// ChannelRepository owns the communication sub-collection. Channels carry no
// portal identity worth diffing, so a present multifield replaces the
// owner's set for that type wholesale; an absent field leaves it alone.
type ChannelRepository struct {
	*Repository
}

func NewChannelRepository(db database.DB, logger ectologger.Logger) *ChannelRepository {
	return &ChannelRepository{Repository: NewRepository(db, logger)}
}

// Replace applies the decoded multifields of one owner. values is keyed by
// channel type id; every key present, including ones mapping to an empty
// slice, wipes and rewrites the owner's channels of that type.
func (r *ChannelRepository) Replace(ctx context.Context, sc *syncctx.Context, ownerKind models.Kind, ownerExternalID int64, values map[string][]bitrix.ChannelValue) error {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.Replace")
	defer span.End()

	for typeID, channels := range values {
		if err := r.deleteByType(ctx, sc, ownerKind, ownerExternalID, typeID); err != nil {
			return err
		}

		for _, channel := range channels {
			channelTypeID, err := r.ensureChannelType(ctx, sc, typeID, channel.ValueType)
			if err != nil {
				return err
			}

			row := &models.CommunicationChannel{
				ExternalID:      channel.ExternalID,
				OwnerKind:       ownerKind,
				OwnerExternalID: ownerExternalID,
				ChannelTypeID:   channelTypeID,
				Value:           channel.Value,
			}

			ib := channelStruct.InsertInto(channelsTable, row)
			query, args := ib.Build()
			if _, err := sc.Tx().ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"owner_kind": ownerKind,
					"owner_id":   ownerExternalID,
					"type_id":    typeID,
				}).Error("failed to insert communication channel")
				return err
			}
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"owner_kind": ownerKind,
		"owner_id":   ownerExternalID,
		"types":      len(values),
	}).Debugf("Replaced communication channels")
	return nil
}

// ListByOwner returns the owner's channels of one type, joined through the
// type table.
func (r *ChannelRepository) ListByOwner(ctx context.Context, sc *syncctx.Context, ownerKind models.Kind, ownerExternalID int64, typeID string) ([]models.CommunicationChannel, error) {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.ListByOwner")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("c.id", "c.external_id", "c.owner_kind", "c.owner_external_id", "c.channel_type_id", "c.value", "c.is_deleted_in_bitrix", "c.created_at", "c.updated_at")
	sb.From(channelsTable + " c")
	sb.JoinWithOption(sqlbuilder.InnerJoin, channelTypesTable+" t", "t.id = c.channel_type_id")
	sb.Where(
		sb.Equal("c.owner_kind", ownerKind),
		sb.Equal("c.owner_external_id", ownerExternalID),
		sb.Equal("t.type_id", typeID),
	)
	sb.OrderBy("c.id")

	query, args := sb.Build()
	var channels []models.CommunicationChannel
	if err := sc.Tx().SelectContext(ctx, &channels, query, args...); err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *ChannelRepository) deleteByType(ctx context.Context, sc *syncctx.Context, ownerKind models.Kind, ownerExternalID int64, typeID string) error {
	sub := database.NewSelectBuilder()
	sub.Select("id").From(channelTypesTable)
	sub.Where(sub.Equal("type_id", typeID))

	db := database.NewDeleteBuilder()
	db.DeleteFrom(channelsTable)
	db.Where(
		db.Equal("owner_kind", ownerKind),
		db.Equal("owner_external_id", ownerExternalID),
		db.In("channel_type_id", db.Var(sub)),
	)

	query, args := db.Build()
	_, err := sc.Tx().ExecContext(ctx, query, args...)
	return err
}

// ensureChannelType resolves a (type_id, value_type) pair, creating the
// reference row on first sight.
func (r *ChannelRepository) ensureChannelType(ctx context.Context, sc *syncctx.Context, typeID, valueType string) (int64, error) {
	sb := database.NewSelectBuilder()
	sb.Select("id").From(channelTypesTable)
	sb.Where(sb.Equal("type_id", typeID), sb.Equal("value_type", valueType))

	query, args := sb.Build()
	var id int64
	err := sc.Tx().GetContext(ctx, &id, query, args...)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(channelTypesTable).
		Cols("type_id", "value_type").
		Values(typeID, valueType).
		Returning("id")

	query, args = ib.Build()
	if err := sc.Tx().QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"type_id":    typeID,
			"value_type": valueType,
		}).Error("failed to create communication channel type")
		return 0, err
	}
	return id, nil
}
