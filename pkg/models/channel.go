package models

import "time"

// Channel type identifiers as Bitrix names them in multifield payloads.
const (
	ChannelPhone = "PHONE"
	ChannelEmail = "EMAIL"
	ChannelWeb   = "WEB"
	ChannelIM    = "IM"
	ChannelLink  = "LINK"
)

// CommunicationChannelType is a reference row for a (type, value_type) pair,
// e.g. (PHONE, WORK). Rows are created on demand when a channel referencing
// an unseen pair is ingested.
type CommunicationChannelType struct {
	ID        int64     `db:"id" json:"id" fieldopt:"omitempty"`
	TypeID    string    `db:"type_id" json:"type_id"`
	ValueType string    `db:"value_type" json:"value_type"`
	CreatedAt time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

// CommunicationChannel is one multifield value (phone, email, ...) attached to
// an owning entity. Channels have no CRM-side identity of their own: the set
// for an owner is replaced wholesale on every update.
type CommunicationChannel struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	OwnerKind         Kind      `db:"owner_kind" json:"owner_kind"`
	OwnerExternalID   int64     `db:"owner_external_id" json:"owner_external_id"`
	ChannelTypeID     int64     `db:"channel_type_id" json:"channel_type_id"`
	Value             string    `db:"value" json:"value"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (c *CommunicationChannel) GetExternalID() int64          { return c.ExternalID }
func (c *CommunicationChannel) MarkDeletedInBitrix(flag bool) { c.IsDeletedInBitrix = flag }
