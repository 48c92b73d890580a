package models

import "time"

// Lead is a CRM lead row mirrored locally.
type Lead struct {
	ID                int64      `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64      `db:"external_id" json:"external_id"`
	Title             string     `db:"title" json:"title"`
	Name              *string    `db:"name" json:"name,omitempty"`
	SecondName        *string    `db:"second_name" json:"second_name,omitempty"`
	LastName          *string    `db:"last_name" json:"last_name,omitempty"`
	StatusID          *string    `db:"status_id" json:"status_id,omitempty"`
	SourceID          *string    `db:"source_id" json:"source_id,omitempty"`
	CompanyID         *int64     `db:"company_id" json:"company_id,omitempty"`
	ContactID         *int64     `db:"contact_id" json:"contact_id,omitempty"`
	AssignedByID      int64      `db:"assigned_by_id" json:"assigned_by_id"`
	CreatedByID       int64      `db:"created_by_id" json:"created_by_id"`
	ModifyByID        *int64     `db:"modify_by_id" json:"modify_by_id,omitempty"`
	Comments          *string    `db:"comments" json:"comments,omitempty"`
	DateCreate        *time.Time `db:"date_create" json:"date_create,omitempty"`
	IsDeletedInBitrix bool       `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (l *Lead) GetExternalID() int64          { return l.ExternalID }
func (l *Lead) MarkDeletedInBitrix(flag bool) { l.IsDeletedInBitrix = flag }

// Company is a CRM company row mirrored locally.
type Company struct {
	ID                int64      `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64      `db:"external_id" json:"external_id"`
	Title             string     `db:"title" json:"title"`
	CompanyType       *string    `db:"company_type" json:"company_type,omitempty"`
	Industry          *string    `db:"industry" json:"industry,omitempty"`
	Revenue           *float64   `db:"revenue" json:"revenue,omitempty"`
	Currency          *string    `db:"currency" json:"currency,omitempty"`
	LeadID            *int64     `db:"lead_id" json:"lead_id,omitempty"`
	AssignedByID      int64      `db:"assigned_by_id" json:"assigned_by_id"`
	CreatedByID       int64      `db:"created_by_id" json:"created_by_id"`
	ModifyByID        *int64     `db:"modify_by_id" json:"modify_by_id,omitempty"`
	Comments          *string    `db:"comments" json:"comments,omitempty"`
	DateCreate        *time.Time `db:"date_create" json:"date_create,omitempty"`
	IsDeletedInBitrix bool       `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (c *Company) GetExternalID() int64          { return c.ExternalID }
func (c *Company) MarkDeletedInBitrix(flag bool) { c.IsDeletedInBitrix = flag }

// Contact is a CRM contact row mirrored locally.
type Contact struct {
	ID                int64      `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64      `db:"external_id" json:"external_id"`
	Name              *string    `db:"name" json:"name,omitempty"`
	SecondName        *string    `db:"second_name" json:"second_name,omitempty"`
	LastName          *string    `db:"last_name" json:"last_name,omitempty"`
	CompanyID         *int64     `db:"company_id" json:"company_id,omitempty"`
	LeadID            *int64     `db:"lead_id" json:"lead_id,omitempty"`
	AssignedByID      int64      `db:"assigned_by_id" json:"assigned_by_id"`
	CreatedByID       int64      `db:"created_by_id" json:"created_by_id"`
	ModifyByID        *int64     `db:"modify_by_id" json:"modify_by_id,omitempty"`
	Comments          *string    `db:"comments" json:"comments,omitempty"`
	DateCreate        *time.Time `db:"date_create" json:"date_create,omitempty"`
	IsDeletedInBitrix bool       `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (c *Contact) GetExternalID() int64          { return c.ExternalID }
func (c *Contact) MarkDeletedInBitrix(flag bool) { c.IsDeletedInBitrix = flag }

// User is a portal user row mirrored locally. User rows are imported on
// demand: they must exist before any entity referencing them is written.
type User struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	Name              *string   `db:"name" json:"name,omitempty"`
	LastName          *string   `db:"last_name" json:"last_name,omitempty"`
	Email             *string   `db:"email" json:"email,omitempty"`
	WorkPosition      *string   `db:"work_position" json:"work_position,omitempty"`
	DepartmentID      *int64    `db:"department_id" json:"department_id,omitempty"`
	Active            bool      `db:"active" json:"active"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (u *User) GetExternalID() int64          { return u.ExternalID }
func (u *User) MarkDeletedInBitrix(flag bool) { u.IsDeletedInBitrix = flag }

// Department is a node of the portal's department forest. ParentID may point
// at a department imported later in the same pull.
type Department struct {
	ID                int64     `db:"id" json:"id" fieldopt:"omitempty"`
	ExternalID        int64     `db:"external_id" json:"external_id"`
	Name              string    `db:"name" json:"name"`
	ParentID          *int64    `db:"parent_id" json:"parent_id,omitempty"`
	HeadUserID        *int64    `db:"head_user_id" json:"head_user_id,omitempty"`
	IsDeletedInBitrix bool      `db:"is_deleted_in_bitrix" json:"is_deleted_in_bitrix"`
	CreatedAt         time.Time `db:"created_at" json:"created_at" fieldopt:"omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at" fieldopt:"omitempty"`
}

func (d *Department) GetExternalID() int64          { return d.ExternalID }
func (d *Department) MarkDeletedInBitrix(flag bool) { d.IsDeletedInBitrix = flag }
