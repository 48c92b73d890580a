package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	EventSynced     = "entity.synced"
	EventTombstoned = "entity.tombstoned"
)

// Emitter publishes sync events to Kafka so downstream consumers can follow
// what the synchronizer did without polling the DB.
type Emitter struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// EmitterConfig holds Kafka emitter configuration
type EmitterConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// NewEmitter creates a new sync event emitter
func NewEmitter(cfg EmitterConfig, logger ectologger.Logger) *Emitter {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}

	return &Emitter{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the emitter
func (e *Emitter) Close() error {
	return e.writer.Close()
}

// SyncEvent describes one completed entity synchronization.
type SyncEvent struct {
	EventType  string    `json:"event_type"`
	EntityKind string    `json:"entity_kind"`
	ExternalID int64     `json:"external_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// EmitSynced publishes an entity.synced event.
func (e *Emitter) EmitSynced(ctx context.Context, kind models.Kind, externalID int64) error {
	return e.publish(ctx, EventSynced, kind, externalID)
}

// EmitTombstoned publishes an entity.tombstoned event.
func (e *Emitter) EmitTombstoned(ctx context.Context, kind models.Kind, externalID int64) error {
	return e.publish(ctx, EventTombstoned, kind, externalID)
}

func (e *Emitter) publish(ctx context.Context, eventType string, kind models.Kind, externalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.publish")
	defer span.End()

	event := SyncEvent{
		EventType:  eventType,
		EntityKind: string(kind),
		ExternalID: externalID,
		Timestamp:  time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: e.topic,
		Key:   []byte(string(kind) + ":" + strconv.FormatInt(externalID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "entity_kind", Value: []byte(kind)},
		},
	}

	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to publish sync event")
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  eventType,
		"entity_kind": kind,
		"external_id": externalID,
	}).Debug("Published sync event")

	return nil
}
