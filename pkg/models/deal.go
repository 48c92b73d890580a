package models

import "time"

// StageSemantic is the coarse classification Bitrix keeps per stage.
type StageSemantic string

const (
	SemanticProspective StageSemantic = "P"
	SemanticSuccess     StageSemantic = "S"
	SemanticFail        StageSemantic = "F"
)

// StatusDeal is the finer status fact tracked in a user field. The DB copy is
// authoritative; CRM edits are rolled back.
type StatusDeal string

const (
	StatusNew      StatusDeal = "NEW"
	StatusAccepted StatusDeal = "ACCEPTED"
	StatusDealLose StatusDeal = "DEAL_LOSE"
)

// Deal is a CRM deal row mirrored locally. external_id is the CRM deal ID.
type Deal struct {
	ID                int64          `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64          `db:"external_id" json:"external_id"`
	Title             string         `db:"title" json:"title"`
	CategoryID        int            `db:"category_id" json:"category_id"`
	StageID           string         `db:"stage_id" json:"stage_id"`
	StageSemanticID   StageSemantic  `db:"stage_semantic_id" json:"stage_semantic_id"`
	StatusDeal        StatusDeal     `db:"status_deal" json:"status_deal"`
	Opportunity       float64        `db:"opportunity" json:"opportunity"`
	Currency          string         `db:"currency" json:"currency"`
	Probability       *int           `db:"probability" json:"probability,omitempty"`
	IsNew             bool           `db:"is_new" json:"is_new"`
	IsRecurring       bool           `db:"is_recurring" json:"is_recurring"`
	CompanyID         *int64         `db:"company_id" json:"company_id,omitempty"`
	ContactID         *int64         `db:"contact_id" json:"contact_id,omitempty"`
	LeadID            *int64         `db:"lead_id" json:"lead_id,omitempty"`
	AssignedByID      int64          `db:"assigned_by_id" json:"assigned_by_id"`
	CreatedByID       int64          `db:"created_by_id" json:"created_by_id"`
	ModifyByID        *int64         `db:"modify_by_id" json:"modify_by_id,omitempty"`
	MovedByID         *int64         `db:"moved_by_id" json:"moved_by_id,omitempty"`
	LastActivityByID  *int64         `db:"last_activity_by_id" json:"last_activity_by_id,omitempty"`
	BeginDate         *time.Time     `db:"begindate" json:"begindate,omitempty"`
	CloseDate         *time.Time     `db:"closedate" json:"closedate,omitempty"`
	MovedDate         *time.Time     `db:"moved_date" json:"moved_date,omitempty"`
	SourceID          *string        `db:"source_id" json:"source_id,omitempty"`
	SourceDescription *string        `db:"source_description" json:"source_description,omitempty"`
	Comments          *string        `db:"comments" json:"comments,omitempty"`
	IsDeletedInBitrix bool           `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (d *Deal) GetExternalID() int64 {
	return d.ExternalID
}

func (d *Deal) MarkDeletedInBitrix(flag bool) {
	d.IsDeletedInBitrix = flag
}

// HasCompany reports whether the deal references a company.
func (d *Deal) HasCompany() bool {
	return d.CompanyID != nil && *d.CompanyID > 0
}

// AdditionalInfo is an optional one-per-deal attachment.
type AdditionalInfo struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	DealExternalID    int64     `db:"deal_external_id" json:"deal_external_id"`
	Info              *string   `db:"info" json:"info,omitempty"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (a *AdditionalInfo) GetExternalID() int64 {
	return a.ExternalID
}

func (a *AdditionalInfo) MarkDeletedInBitrix(flag bool) {
	a.IsDeletedInBitrix = flag
}

// ProductAgreementSupervisor links a deal to the users supervising a product
// agreement.
type ProductAgreementSupervisor struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	DealExternalID    int64     `db:"deal_external_id" json:"deal_external_id"`
	UserExternalID    int64     `db:"user_external_id" json:"user_external_id"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (p *ProductAgreementSupervisor) GetExternalID() int64 {
	return p.ExternalID
}

func (p *ProductAgreementSupervisor) MarkDeletedInBitrix(flag bool) {
	p.IsDeletedInBitrix = flag
}
