package bitrix

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Deal user fields. The portal exposes them under both spellings; alias
// choice 2 selects the camelCase form used by the item namespace.
var DealWireNames = map[string]Alias{
	"title":             {First: "TITLE", Second: "title"},
	"stage_id":          {First: "STAGE_ID", Second: "stageId"},
	"stage_semantic_id": {First: "STAGE_SEMANTIC_ID", Second: "stageSemanticId"},
	"status_deal":       {First: "UF_CRM_STATUS_DEAL", Second: "ufCrmStatusDeal"},
	"moved_date":        {First: "UF_CRM_MOVED_DATE", Second: "ufCrmMovedDate"},
	"opportunity":       {First: "OPPORTUNITY", Second: "opportunity"},
	"currency":          {First: "CURRENCY_ID", Second: "currencyId"},
	"probability":       {First: "PROBABILITY", Second: "probability"},
	"company_id":        {First: "COMPANY_ID", Second: "companyId"},
	"contact_id":        {First: "CONTACT_ID", Second: "contactId"},
	"lead_id":           {First: "LEAD_ID", Second: "leadId"},
	"assigned_by_id":    {First: "ASSIGNED_BY_ID", Second: "assignedById"},
	"begindate":         {First: "BEGINDATE", Second: "begindate"},
	"closedate":         {First: "CLOSEDATE", Second: "closedate"},
	"source_id":         {First: "SOURCE_ID", Second: "sourceId"},
	"comments":          {First: "COMMENTS", Second: "comments"},
	"is_new":            {First: "IS_NEW", Second: "isNew"},
	"is_recurring":      {First: "IS_RECURRING", Second: "isRecurring"},
}

// EncodeDealFields renders a canonical change set into wire fields. Unknown
// canonical names are passed through untouched so user fields outside the
// alias table still reach the portal.
func EncodeDealFields(changes map[string]any, aliasChoice int) Fields {
	out := make(Fields, len(changes))
	for name, value := range changes {
		wireName := name
		if alias, ok := DealWireNames[name]; ok {
			wireName = alias.Pick(aliasChoice)
		}
		switch v := value.(type) {
		case bool:
			out[wireName] = BoolY(v)
		case time.Time:
			out[wireName] = FormatDateTime(v)
		case *time.Time:
			if v != nil {
				out[wireName] = FormatDateTime(*v)
			} else {
				out[wireName] = ""
			}
		default:
			out[wireName] = value
		}
	}
	return out
}

func str(f Fields, key string) string {
	if p := ParseString(f[key]); p != nil {
		return *p
	}
	return ""
}

func id(f Fields, key string) int64 {
	if p := ParseID(f[key]); p != nil {
		return *p
	}
	return 0
}

func float(f Fields, key string) float64 {
	if p := ParseFloat(f[key]); p != nil {
		return *p
	}
	return 0
}

// DecodeDeal maps raw deal fields onto the local record shape.
func DecodeDeal(f Fields) *models.Deal {
	deal := &models.Deal{
		ExternalID:        id(f, "ID"),
		Title:             str(f, "TITLE"),
		CategoryID:        int(id(f, "CATEGORY_ID")),
		StageID:           str(f, "STAGE_ID"),
		StageSemanticID:   models.StageSemantic(str(f, "STAGE_SEMANTIC_ID")),
		StatusDeal:        models.StatusDeal(str(f, "UF_CRM_STATUS_DEAL")),
		Opportunity:       float(f, "OPPORTUNITY"),
		Currency:          str(f, "CURRENCY_ID"),
		IsNew:             ParseBool(f["IS_NEW"]),
		IsRecurring:       ParseBool(f["IS_RECURRING"]),
		CompanyID:         ParseID(f["COMPANY_ID"]),
		ContactID:         ParseID(f["CONTACT_ID"]),
		LeadID:            ParseID(f["LEAD_ID"]),
		AssignedByID:      id(f, "ASSIGNED_BY_ID"),
		CreatedByID:       id(f, "CREATED_BY_ID"),
		ModifyByID:        ParseID(f["MODIFY_BY_ID"]),
		MovedByID:         ParseID(f["MOVED_BY_ID"]),
		LastActivityByID:  ParseID(f["LAST_ACTIVITY_BY"]),
		BeginDate:         ParseDateTime(f["BEGINDATE"]),
		CloseDate:         ParseDateTime(f["CLOSEDATE"]),
		MovedDate:         ParseDateTime(f["UF_CRM_MOVED_DATE"]),
		SourceID:          ParseString(f["SOURCE_ID"]),
		SourceDescription: ParseString(f["SOURCE_DESCRIPTION"]),
		Comments:          ParseString(f["COMMENTS"]),
	}
	if p := ParseID(f["PROBABILITY"]); p != nil {
		probability := int(*p)
		deal.Probability = &probability
	}
	return deal
}

// DecodeLead maps raw lead fields onto the local record shape.
func DecodeLead(f Fields) *models.Lead {
	return &models.Lead{
		ExternalID:   id(f, "ID"),
		Title:        str(f, "TITLE"),
		Name:         ParseString(f["NAME"]),
		SecondName:   ParseString(f["SECOND_NAME"]),
		LastName:     ParseString(f["LAST_NAME"]),
		StatusID:     ParseString(f["STATUS_ID"]),
		SourceID:     ParseString(f["SOURCE_ID"]),
		CompanyID:    ParseID(f["COMPANY_ID"]),
		ContactID:    ParseID(f["CONTACT_ID"]),
		AssignedByID: id(f, "ASSIGNED_BY_ID"),
		CreatedByID:  id(f, "CREATED_BY_ID"),
		ModifyByID:   ParseID(f["MODIFY_BY_ID"]),
		Comments:     ParseString(f["COMMENTS"]),
		DateCreate:   ParseDateTime(f["DATE_CREATE"]),
	}
}

// DecodeCompany maps raw company fields onto the local record shape.
func DecodeCompany(f Fields) *models.Company {
	company := &models.Company{
		ExternalID:   id(f, "ID"),
		Title:        str(f, "TITLE"),
		CompanyType:  ParseString(f["COMPANY_TYPE"]),
		Industry:     ParseString(f["INDUSTRY"]),
		LeadID:       ParseID(f["LEAD_ID"]),
		AssignedByID: id(f, "ASSIGNED_BY_ID"),
		CreatedByID:  id(f, "CREATED_BY_ID"),
		ModifyByID:   ParseID(f["MODIFY_BY_ID"]),
		Comments:     ParseString(f["COMMENTS"]),
		DateCreate:   ParseDateTime(f["DATE_CREATE"]),
	}
	if raw := str(f, "REVENUE"); raw != "" {
		if amount, currency, err := ParseMoney(raw); err == nil {
			company.Revenue = &amount
			if currency != "" {
				company.Currency = &currency
			}
		}
	}
	return company
}

// DecodeContact maps raw contact fields onto the local record shape.
func DecodeContact(f Fields) *models.Contact {
	return &models.Contact{
		ExternalID:   id(f, "ID"),
		Name:         ParseString(f["NAME"]),
		SecondName:   ParseString(f["SECOND_NAME"]),
		LastName:     ParseString(f["LAST_NAME"]),
		CompanyID:    ParseID(f["COMPANY_ID"]),
		LeadID:       ParseID(f["LEAD_ID"]),
		AssignedByID: id(f, "ASSIGNED_BY_ID"),
		CreatedByID:  id(f, "CREATED_BY_ID"),
		ModifyByID:   ParseID(f["MODIFY_BY_ID"]),
		Comments:     ParseString(f["COMMENTS"]),
		DateCreate:   ParseDateTime(f["DATE_CREATE"]),
	}
}

// DecodeUser maps raw user fields onto the local record shape. Department
// membership arrives as an array; only the first entry is kept.
func DecodeUser(f Fields) *models.User {
	user := &models.User{
		ExternalID:   id(f, "ID"),
		Name:         ParseString(f["NAME"]),
		LastName:     ParseString(f["LAST_NAME"]),
		Email:        ParseString(f["EMAIL"]),
		WorkPosition: ParseString(f["WORK_POSITION"]),
		Active:       ParseBool(f["ACTIVE"]),
	}
	if departments, ok := f["UF_DEPARTMENT"].([]any); ok && len(departments) > 0 {
		user.DepartmentID = ParseID(departments[0])
	}
	return user
}

// DecodeProduct maps raw catalog fields onto the local record shape.
func DecodeProduct(f Fields) *models.Product {
	product := &models.Product{
		ExternalID: id(f, "id"),
		Name:       str(f, "name"),
		XMLID:      ParseString(f["xmlId"]),
		Active:     ParseBool(f["active"]),
		Price:      ParseFloat(f["price"]),
		Currency:   ParseString(f["currencyId"]),
	}
	// Classic spellings show up when the record came through crm.product.*.
	if product.ExternalID == 0 {
		product.ExternalID = id(f, "ID")
		product.Name = str(f, "NAME")
		product.XMLID = ParseString(f["XML_ID"])
		product.Active = ParseBool(f["ACTIVE"])
		product.Price = ParseFloat(f["PRICE"])
		product.Currency = ParseString(f["CURRENCY_ID"])
	}
	return product
}

// DecodeDepartment maps raw department fields onto the local record shape.
func DecodeDepartment(f Fields) *models.Department {
	return &models.Department{
		ExternalID: id(f, "ID"),
		Name:       str(f, "NAME"),
		ParentID:   ParseID(f["PARENT"]),
		HeadUserID: ParseID(f["UF_HEAD"]),
	}
}

// DecodeTimelineComment maps raw timeline fields onto the local record shape.
func DecodeTimelineComment(f Fields, entityType string, entityExternalID int64) *models.TimelineComment {
	return &models.TimelineComment{
		ExternalID:       id(f, "ID"),
		EntityType:       entityType,
		EntityExternalID: entityExternalID,
		AuthorID:         id(f, "AUTHOR_ID"),
		Comment:          str(f, "COMMENT"),
		Created:          ParseDateTime(f["CREATED"]),
	}
}

// ChannelValue is one multifield entry before channel-type resolution.
type ChannelValue struct {
	ExternalID int64
	TypeID     string
	ValueType  string
	Value      string
}

var channelFieldNames = map[string]string{
	"PHONE": models.ChannelPhone,
	"EMAIL": models.ChannelEmail,
	"WEB":   models.ChannelWeb,
	"IM":    models.ChannelIM,
	"LINK":  models.ChannelLink,
}

// DecodeChannels extracts the multifield communication values present in f.
// The returned map is keyed by type id and contains an entry for every
// channel field present, including ones present with an empty list, which is
// what drives replace-on-update.
func DecodeChannels(f Fields) map[string][]ChannelValue {
	out := make(map[string][]ChannelValue)
	for fieldName, typeID := range channelFieldNames {
		raw, present := f[fieldName]
		if !present {
			continue
		}

		values := []ChannelValue{}
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				value := ChannelValue{
					TypeID:    typeID,
					ValueType: str(entry, "VALUE_TYPE"),
					Value:     str(entry, "VALUE"),
				}
				if p := ParseID(entry["ID"]); p != nil {
					value.ExternalID = *p
				}
				if value.Value != "" {
					values = append(values, value)
				}
			}
		}
		out[typeID] = values
	}
	return out
}

// Tombstone defaults, substituted when the portal says not-found or a cyclic
// import forces a placeholder. All carry the tombstone flag so a later
// refresh can still land on the row.

func DefaultDeal(externalID int64) *models.Deal {
	return &models.Deal{
		ExternalID:        externalID,
		Title:             "Deleted in Bitrix",
		StageID:           "NEW",
		StageSemanticID:   models.SemanticProspective,
		StatusDeal:        models.StatusNew,
		IsDeletedInBitrix: true,
	}
}

func DefaultLead(externalID int64) *models.Lead {
	return &models.Lead{
		ExternalID:        externalID,
		Title:             "Deleted in Bitrix",
		IsDeletedInBitrix: true,
	}
}

func DefaultCompany(externalID int64) *models.Company {
	return &models.Company{
		ExternalID:        externalID,
		Title:             "Deleted in Bitrix",
		IsDeletedInBitrix: true,
	}
}

func DefaultContact(externalID int64) *models.Contact {
	return &models.Contact{
		ExternalID:        externalID,
		IsDeletedInBitrix: true,
	}
}

func DefaultUser(externalID int64) *models.User {
	return &models.User{
		ExternalID:        externalID,
		IsDeletedInBitrix: true,
	}
}

func DefaultProduct(externalID int64) *models.Product {
	return &models.Product{
		ExternalID:        externalID,
		Name:              "Deleted in Bitrix",
		IsDeletedInBitrix: true,
	}
}

func DefaultDepartment(externalID int64) *models.Department {
	return &models.Department{
		ExternalID:        externalID,
		Name:              "Deleted in Bitrix",
		IsDeletedInBitrix: true,
	}
}
