package models

import "time"

// Product is a catalog product mirrored locally. XMLID is the site-facing
// identifier used by the price-request path.
type Product struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	Name              string    `db:"name" json:"name"`
	XMLID             *string   `db:"xml_id" json:"xml_id,omitempty"`
	Price             *float64  `db:"price" json:"price,omitempty"`
	Currency          *string   `db:"currency" json:"currency,omitempty"`
	Active            bool      `db:"active" json:"active"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (p *Product) GetExternalID() int64          { return p.ExternalID }
func (p *Product) MarkDeletedInBitrix(flag bool) { p.IsDeletedInBitrix = flag }

// ProductRow is one line of a deal's product table.
type ProductRow struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	OwnerID           int64     `db:"owner_id" json:"owner_id"`
	OwnerType         string    `db:"owner_type" json:"owner_type"`
	ProductID         *int64    `db:"product_id" json:"product_id,omitempty"`
	ProductName       *string   `db:"product_name" json:"product_name,omitempty"`
	Price             float64   `db:"price" json:"price"`
	Quantity          float64   `db:"quantity" json:"quantity"`
	DiscountRate      *float64  `db:"discount_rate" json:"discount_rate,omitempty"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (p *ProductRow) GetExternalID() int64          { return p.ExternalID }
func (p *ProductRow) MarkDeletedInBitrix(flag bool) { p.IsDeletedInBitrix = flag }

// DealStage is one of the 13 ordered deal states of the main funnel. Its
// external identifier is the CRM STAGE_ID string, the one kind keyed by a
// string rather than an integer.
type DealStage struct {
	ID         int64         `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID string        `db:"external_id" json:"external_id"`
	Name       string        `db:"name" json:"name"`
	SortOrder  int           `db:"sort_order" json:"sort_order"`
	Semantic   StageSemantic `db:"semantic" json:"semantic"`
}

// TimelineComment is a comment on an entity's timeline, synchronized as a
// derived sub-collection of deals.
type TimelineComment struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	EntityType        string    `db:"entity_type" json:"entity_type"`
	EntityExternalID  int64     `db:"entity_external_id" json:"entity_external_id"`
	AuthorID          int64     `db:"author_id" json:"author_id"`
	Comment           string    `db:"comment" json:"comment"`
	Created           *time.Time `db:"created" json:"created,omitempty"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (t *TimelineComment) GetExternalID() int64          { return t.ExternalID }
func (t *TimelineComment) MarkDeletedInBitrix(flag bool) { t.IsDeletedInBitrix = flag }
