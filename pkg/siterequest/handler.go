package siterequest

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const dealTitle = "Запрос цены с сайта"

// Request is one parsed price request from the site or the mail template.
type Request struct {
	Phone       string `json:"phone" validate:"required"`
	ProductID   int64  `json:"product_id" validate:"required"`
	ProductName string `json:"product_name,omitempty"`
	Name        string `json:"name,omitempty"`
	Comment     string `json:"comment,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
}

// Result reports what each step of the pipeline achieved. A missing product
// or a failed product write degrades the result, it does not abort it.
type Result struct {
	ContactID       int64 `json:"contact_id,omitempty"`
	CompanyID       int64 `json:"company_id,omitempty"`
	ContactCreated  bool  `json:"contact_created"`
	ManagerID       int64 `json:"manager_id"`
	DealID          int64 `json:"deal_id"`
	ProductAttached bool  `json:"product_attached"`
	NotePosted      bool  `json:"note_posted"`
}

// Handler opens deals for price requests arriving from the site.
type Handler struct {
	caller    bitrix.Caller
	deals     *bitrix.Adapter
	contacts  *bitrix.Adapter
	companies *bitrix.Adapter
	products  *bitrix.Adapter

	managerIDs []int
	logger     ectologger.Logger
}

func NewHandler(caller bitrix.Caller, managerIDs []int, logger ectologger.Logger) *Handler {
	return &Handler{
		caller:     caller,
		deals:      bitrix.NewAdapter(caller, models.KindDeal, bitrix.NamespaceCRM, "deal", 0),
		contacts:   bitrix.NewAdapter(caller, models.KindContact, bitrix.NamespaceCRM, "contact", 0),
		companies:  bitrix.NewAdapter(caller, models.KindCompany, bitrix.NamespaceCRM, "company", 0),
		products:   bitrix.NewAdapter(caller, models.KindProduct, bitrix.NamespaceCatalog, "product", 0),
		managerIDs: managerIDs,
		logger:     logger,
	}
}

// Handle runs the whole pipeline: resolve or create the owner, open the
// deal, attach the product, post the timeline note.
func (h *Handler) Handle(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "SiteRequest.Handle")
	defer span.End()

	result := &Result{}

	managerID, contactID, companyID, created, err := h.resolveOwner(ctx, req)
	if err != nil {
		return nil, err
	}
	result.ManagerID = managerID
	result.ContactID = contactID
	result.CompanyID = companyID
	result.ContactCreated = created

	dealID, err := h.createDeal(ctx, req, managerID, contactID, companyID)
	if err != nil {
		return nil, err
	}
	result.DealID = dealID

	result.ProductAttached = h.attachProduct(ctx, req, dealID)
	result.NotePosted = h.postNote(ctx, req, dealID)

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"deal_id":          dealID,
		"manager_id":       managerID,
		"contact_created":  created,
		"product_attached": result.ProductAttached,
	}).Info("Site request processed")
	return result, nil
}

// resolveOwner finds an existing contact or company by phone, or creates a
// fresh contact owned by the least-loaded manager.
func (h *Handler) resolveOwner(ctx context.Context, req *Request) (managerID, contactID, companyID int64, created bool, err error) {
	matches, err := bitrix.FindDuplicatesByComm(ctx, h.caller, models.ChannelPhone, []string{req.Phone})
	if err != nil {
		return 0, 0, 0, false, err
	}

	if len(matches.Contacts) > 0 {
		contactID = matches.Contacts[0]
		fields, err := h.contacts.Get(ctx, contactID)
		if err != nil {
			return 0, 0, 0, false, err
		}
		contact := bitrix.DecodeContact(fields)
		return contact.AssignedByID, contactID, 0, false, nil
	}

	if len(matches.Companies) > 0 {
		companyID = matches.Companies[0]
		fields, err := h.companies.Get(ctx, companyID)
		if err != nil {
			return 0, 0, 0, false, err
		}
		company := bitrix.DecodeCompany(fields)
		return company.AssignedByID, 0, companyID, false, nil
	}

	managerID, err = h.leastLoadedManager(ctx)
	if err != nil {
		return 0, 0, 0, false, err
	}

	name := req.Name
	if name == "" {
		name = req.Phone
	}
	contactID, err = h.contacts.Add(ctx, bitrix.Fields{
		"NAME":           name,
		"ASSIGNED_BY_ID": managerID,
		"PHONE": []map[string]any{
			{"VALUE": req.Phone, "VALUE_TYPE": "WORK"},
		},
	})
	if err != nil {
		return 0, 0, 0, false, err
	}
	return managerID, contactID, 0, true, nil
}

// leastLoadedManager tallies prospective deals per configured manager and
// picks the smallest load. Ties break by configuration order; an empty tally
// falls back to the first configured manager.
func (h *Handler) leastLoadedManager(ctx context.Context) (int64, error) {
	if len(h.managerIDs) == 0 {
		return 0, fmt.Errorf("no managers configured")
	}

	managers := make([]any, len(h.managerIDs))
	for i, id := range h.managerIDs {
		managers[i] = id
	}

	tally := make(map[int64]int, len(h.managerIDs))
	items, err := h.deals.ListAll(ctx, bitrix.ListParams{
		Select: []string{"ID", "ASSIGNED_BY_ID"},
		Filter: map[string]any{
			"STAGE_SEMANTIC_ID": string(models.SemanticProspective),
			"ASSIGNED_BY_ID":    managers,
		},
	})
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to tally manager load, using first configured manager")
		return int64(h.managerIDs[0]), nil
	}

	for _, fields := range items {
		deal := bitrix.DecodeDeal(fields)
		tally[deal.AssignedByID]++
	}

	best := int64(h.managerIDs[0])
	bestLoad := tally[best]
	for _, id := range h.managerIDs[1:] {
		if load := tally[int64(id)]; load < bestLoad {
			best = int64(id)
			bestLoad = load
		}
	}
	return best, nil
}

func (h *Handler) createDeal(ctx context.Context, req *Request, managerID, contactID, companyID int64) (int64, error) {
	title := dealTitle
	if req.MessageID != "" {
		title = fmt.Sprintf("%s #%s", dealTitle, req.MessageID)
	}

	fields := bitrix.Fields{
		"TITLE":          title,
		"ASSIGNED_BY_ID": managerID,
	}
	if contactID > 0 {
		fields["CONTACT_ID"] = contactID
	}
	if companyID > 0 {
		fields["COMPANY_ID"] = companyID
	}
	if req.Comment != "" {
		fields["COMMENTS"] = req.Comment
	}

	return h.deals.Add(ctx, fields)
}

// attachProduct looks the product up by its site identifier and writes a
// single product row onto the deal. Any failure degrades to a comment naming
// the product.
func (h *Handler) attachProduct(ctx context.Context, req *Request, dealID int64) bool {
	product, err := h.findProductByXMLID(ctx, req.ProductID)
	if err == nil {
		price := 0.0
		if product.Price != nil {
			price = *product.Price
		}
		row := bitrix.ProductRowSet{
			ProductID: product.ExternalID,
			Price:     price,
			Quantity:  0,
		}
		if err = bitrix.SetProductRows(ctx, h.caller, "D", dealID, []bitrix.ProductRowSet{row}); err == nil {
			return true
		}
	}

	h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"deal_id":    dealID,
		"product_id": req.ProductID,
	}).Warn("Failed to attach product, noting it in deal comments")

	name := req.ProductName
	if name == "" {
		name = fmt.Sprintf("%d", req.ProductID)
	}
	note := fmt.Sprintf("Товар: %s", name)
	comment := note
	if req.Comment != "" {
		comment = req.Comment + "\n" + note
	}
	if err := h.deals.Update(ctx, dealID, bitrix.Fields{"COMMENTS": comment}); err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to note product in deal comments")
	}
	return false
}

func (h *Handler) findProductByXMLID(ctx context.Context, xmlID int64) (*models.Product, error) {
	items, err := h.products.List(ctx, bitrix.ListParams{
		Select: []string{"id", "name", "xmlId", "price", "currencyId", "active"},
		Filter: map[string]any{"xmlId": fmt.Sprintf("%d", xmlID)},
	})
	if err != nil {
		return nil, err
	}
	if len(items.Items) == 0 {
		return nil, fmt.Errorf("%w: product with XML_ID %d", bitrix.ErrNotFound, xmlID)
	}
	return bitrix.DecodeProduct(items.Items[0]), nil
}

func (h *Handler) postNote(ctx context.Context, req *Request, dealID int64) bool {
	parts := []string{}
	if req.Comment != "" {
		parts = append(parts, req.Comment)
	}
	if req.ProductName != "" {
		parts = append(parts, fmt.Sprintf("Товар: %s", req.ProductName))
	}
	if len(parts) == 0 {
		parts = append(parts, dealTitle)
	}

	if _, err := bitrix.AddTimelineComment(ctx, h.caller, "deal", dealID, strings.Join(parts, "\n")); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"deal_id": dealID,
		}).Warn("Failed to post timeline note")
		return false
	}
	return true
}
