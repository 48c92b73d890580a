package models

// Kind identifies a top-level CRM record kind. The string values match the
// entity segment of Bitrix REST method names.
type Kind string

const (
	KindDeal                       Kind = "deal"
	KindLead                       Kind = "lead"
	KindCompany                    Kind = "company"
	KindContact                    Kind = "contact"
	KindUser                       Kind = "user"
	KindProduct                    Kind = "product"
	KindProductRow                 Kind = "productrow"
	KindTimelineComment            Kind = "timeline_comment"
	KindCommunicationChannel       Kind = "communication_channel"
	KindCommunicationChannelType   Kind = "communication_channel_type"
	KindDealStage                  Kind = "deal_stage"
	KindDepartment                 Kind = "department"
	KindAdditionalInfo             Kind = "additional_info"
	KindProductAgreementSupervisor Kind = "product_agreement_supervisor"
)

// Key addresses one entity across the system: CRM, DB and the per-request
// coordination cache.
type Key struct {
	Kind       Kind
	ExternalID int64
}

// Record is implemented by every synchronized entity row.
type Record interface {
	GetExternalID() int64
	MarkDeletedInBitrix(flag bool)
}
