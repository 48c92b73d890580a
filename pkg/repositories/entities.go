package repositories

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Stores aggregates every entity store over one database handle.
type Stores struct {
	Deals       *Store[*models.Deal]
	Leads       *Store[*models.Lead]
	Companies   *Store[*models.Company]
	Contacts    *Store[*models.Contact]
	Users       *Store[*models.User]
	Products    *Store[*models.Product]
	Departments *Store[*models.Department]

	AdditionalInfo *Store[*models.AdditionalInfo]
	Supervisors    *Store[*models.ProductAgreementSupervisor]

	Stages   *StageRepository
	Channels *ChannelRepository
	Timeline *TimelineRepository
}

func userDep[T models.Record](field string, required bool, extract func(T) *int64) Dependency[T] {
	return Dependency[T]{Field: field, Kind: models.KindUser, Required: required, Extract: extract}
}

func NewStores(db database.DB, logger ectologger.Logger) *Stores {
	deals := NewStore(db, logger, Config[*models.Deal]{
		Table: "deals",
		Kind:  models.KindDeal,
		New:   func() *models.Deal { return &models.Deal{} },
		RelatedCreate: []Dependency[*models.Deal]{
			userDep("assigned_by_id", true, func(d *models.Deal) *int64 { return nonZero(d.AssignedByID) }),
			userDep("created_by_id", true, func(d *models.Deal) *int64 { return nonZero(d.CreatedByID) }),
			userDep("modify_by_id", false, func(d *models.Deal) *int64 { return d.ModifyByID }),
			userDep("moved_by_id", false, func(d *models.Deal) *int64 { return d.MovedByID }),
			userDep("last_activity_by_id", false, func(d *models.Deal) *int64 { return d.LastActivityByID }),
			{Field: "company_id", Kind: models.KindCompany, Extract: func(d *models.Deal) *int64 { return d.CompanyID }},
			{Field: "contact_id", Kind: models.KindContact, Extract: func(d *models.Deal) *int64 { return d.ContactID }},
			{Field: "lead_id", Kind: models.KindLead, Extract: func(d *models.Deal) *int64 { return d.LeadID }},
		},
	})

	leads := NewStore(db, logger, Config[*models.Lead]{
		Table: "leads",
		Kind:  models.KindLead,
		New:   func() *models.Lead { return &models.Lead{} },
		RelatedCreate: []Dependency[*models.Lead]{
			userDep("assigned_by_id", true, func(l *models.Lead) *int64 { return nonZero(l.AssignedByID) }),
			userDep("created_by_id", true, func(l *models.Lead) *int64 { return nonZero(l.CreatedByID) }),
			userDep("modify_by_id", false, func(l *models.Lead) *int64 { return l.ModifyByID }),
			{Field: "company_id", Kind: models.KindCompany, Extract: func(l *models.Lead) *int64 { return l.CompanyID }},
			{Field: "contact_id", Kind: models.KindContact, Extract: func(l *models.Lead) *int64 { return l.ContactID }},
		},
	})

	companies := NewStore(db, logger, Config[*models.Company]{
		Table: "companies",
		Kind:  models.KindCompany,
		New:   func() *models.Company { return &models.Company{} },
		RelatedCreate: []Dependency[*models.Company]{
			userDep("assigned_by_id", true, func(c *models.Company) *int64 { return nonZero(c.AssignedByID) }),
			userDep("created_by_id", true, func(c *models.Company) *int64 { return nonZero(c.CreatedByID) }),
			userDep("modify_by_id", false, func(c *models.Company) *int64 { return c.ModifyByID }),
			{Field: "lead_id", Kind: models.KindLead, Extract: func(c *models.Company) *int64 { return c.LeadID }},
		},
	})

	contacts := NewStore(db, logger, Config[*models.Contact]{
		Table: "contacts",
		Kind:  models.KindContact,
		New:   func() *models.Contact { return &models.Contact{} },
		RelatedCreate: []Dependency[*models.Contact]{
			userDep("assigned_by_id", true, func(c *models.Contact) *int64 { return nonZero(c.AssignedByID) }),
			userDep("created_by_id", true, func(c *models.Contact) *int64 { return nonZero(c.CreatedByID) }),
			userDep("modify_by_id", false, func(c *models.Contact) *int64 { return c.ModifyByID }),
			{Field: "company_id", Kind: models.KindCompany, Extract: func(c *models.Contact) *int64 { return c.CompanyID }},
			{Field: "lead_id", Kind: models.KindLead, Extract: func(c *models.Contact) *int64 { return c.LeadID }},
		},
	})

	users := NewStore(db, logger, Config[*models.User]{
		Table: "users",
		Kind:  models.KindUser,
		New:   func() *models.User { return &models.User{} },
	})

	products := NewStore(db, logger, Config[*models.Product]{
		Table: "products",
		Kind:  models.KindProduct,
		New:   func() *models.Product { return &models.Product{} },
	})

	departments := NewStore(db, logger, Config[*models.Department]{
		Table: "departments",
		Kind:  models.KindDepartment,
		New:   func() *models.Department { return &models.Department{} },
	})

	additionalInfo := NewStore(db, logger, Config[*models.AdditionalInfo]{
		Table: "additional_info",
		Kind:  models.KindAdditionalInfo,
		New:   func() *models.AdditionalInfo { return &models.AdditionalInfo{} },
		RelatedChecks: []Dependency[*models.AdditionalInfo]{
			{Field: "deal_external_id", Kind: models.KindDeal, Required: true, Extract: func(a *models.AdditionalInfo) *int64 { return nonZero(a.DealExternalID) }},
		},
	})

	supervisors := NewStore(db, logger, Config[*models.ProductAgreementSupervisor]{
		Table: "product_agreement_supervisors",
		Kind:  models.KindProductAgreementSupervisor,
		New:   func() *models.ProductAgreementSupervisor { return &models.ProductAgreementSupervisor{} },
		RelatedChecks: []Dependency[*models.ProductAgreementSupervisor]{
			{Field: "deal_external_id", Kind: models.KindDeal, Required: true, Extract: func(p *models.ProductAgreementSupervisor) *int64 { return nonZero(p.DealExternalID) }},
		},
		RelatedCreate: []Dependency[*models.ProductAgreementSupervisor]{
			userDep("user_external_id", true, func(p *models.ProductAgreementSupervisor) *int64 { return nonZero(p.UserExternalID) }),
		},
	})

	return &Stores{
		Deals:          deals,
		Leads:          leads,
		Companies:      companies,
		Contacts:       contacts,
		Users:          users,
		Products:       products,
		Departments:    departments,
		AdditionalInfo: additionalInfo,
		Supervisors:    supervisors,
		Stages:         NewStageRepository(db, logger),
		Channels:       NewChannelRepository(db, logger),
		Timeline:       NewTimelineRepository(db, logger),
	}
}

// SetImporter wires the ingest pipeline into every store that declares
// create dependencies.
func (s *Stores) SetImporter(importer Importer) {
	s.Deals.SetImporter(importer)
	s.Leads.SetImporter(importer)
	s.Companies.SetImporter(importer)
	s.Contacts.SetImporter(importer)
	s.Users.SetImporter(importer)
	s.Products.SetImporter(importer)
	s.Departments.SetImporter(importer)
	s.AdditionalInfo.SetImporter(importer)
	s.Supervisors.SetImporter(importer)
}

func nonZero(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
