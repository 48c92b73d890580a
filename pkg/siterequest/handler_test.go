package siterequest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/bitrix"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type portalCall struct {
	method string
	params map[string]any
}

// fakeCaller answers scripted portal methods and records every call.
type fakeCaller struct {
	t           *testing.T
	calls       []portalCall
	answers     map[string]json.RawMessage
	listAnswers map[string]*bitrix.ListResult
	errs        map[string]error
}

func newFakeCaller(t *testing.T) *fakeCaller {
	return &fakeCaller{
		t:           t,
		answers:     map[string]json.RawMessage{},
		listAnswers: map[string]*bitrix.ListResult{},
		errs:        map[string]error{},
	}
}

func (f *fakeCaller) Call(_ context.Context, method string, params map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, portalCall{method: method, params: params})
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	raw, ok := f.answers[method]
	if !ok {
		f.t.Fatalf("unexpected portal call %s", method)
	}
	return raw, nil
}

func (f *fakeCaller) CallList(_ context.Context, method string, params map[string]any) (*bitrix.ListResult, error) {
	f.calls = append(f.calls, portalCall{method: method, params: params})
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	page, ok := f.listAnswers[method]
	if !ok {
		f.t.Fatalf("unexpected portal list call %s", method)
	}
	return page, nil
}

func (f *fakeCaller) paramsOf(method string) map[string]any {
	for _, c := range f.calls {
		if c.method == method {
			return c.params
		}
	}
	f.t.Fatalf("portal method %s was never called", method)
	return nil
}

func TestHandleExistingContact(t *testing.T) {
	caller := newFakeCaller(t)
	caller.answers["crm.duplicate.findbycomm"] = json.RawMessage(`{"CONTACT": [311]}`)
	caller.answers["crm.contact.get"] = json.RawMessage(`{"ID": "311", "NAME": "Алия", "ASSIGNED_BY_ID": "7"}`)
	caller.answers["crm.deal.add"] = json.RawMessage(`"901"`)
	caller.answers["crm.item.productrow.set"] = json.RawMessage(`true`)
	caller.answers["crm.timeline.comment.add"] = json.RawMessage(`77`)
	caller.listAnswers["catalog.product.list"] = &bitrix.ListResult{
		Result: json.RawMessage(`{"products": [{"id": 2001, "name": "Насос", "xmlId": "1507", "price": "1953500|KZT", "active": "Y"}]}`),
		Total:  1,
	}

	handler := NewHandler(caller, []int{7, 8}, noopLogger())

	result, err := handler.Handle(context.Background(), &Request{
		Phone:       "+77011234567",
		ProductID:   1507,
		ProductName: "Насос",
		Comment:     "Нужно 2 штуки",
		MessageID:   "msg-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(311), result.ContactID)
	assert.False(t, result.ContactCreated)
	assert.Equal(t, int64(7), result.ManagerID)
	assert.Equal(t, int64(901), result.DealID)
	assert.True(t, result.ProductAttached)
	assert.True(t, result.NotePosted)

	dealFields := caller.paramsOf("crm.deal.add")["fields"].(bitrix.Fields)
	assert.Equal(t, "Запрос цены с сайта #msg-1", dealFields["TITLE"])
	assert.Equal(t, int64(311), dealFields["CONTACT_ID"])
	assert.Equal(t, "Нужно 2 штуки", dealFields["COMMENTS"])

	rowParams := caller.paramsOf("crm.item.productrow.set")
	assert.Equal(t, "D", rowParams["ownerType"])
	assert.Equal(t, int64(901), rowParams["ownerId"])
}

func TestHandleNewContactPicksLeastLoadedManager(t *testing.T) {
	caller := newFakeCaller(t)
	caller.answers["crm.duplicate.findbycomm"] = json.RawMessage(`[]`)
	caller.answers["crm.contact.add"] = json.RawMessage(`312`)
	caller.answers["crm.deal.add"] = json.RawMessage(`902`)
	caller.answers["crm.deal.update"] = json.RawMessage(`true`)
	caller.errs["crm.timeline.comment.add"] = assert.AnError
	caller.listAnswers["crm.deal.list"] = &bitrix.ListResult{
		Result: json.RawMessage(`[
			{"ID": "1", "ASSIGNED_BY_ID": "7"},
			{"ID": "2", "ASSIGNED_BY_ID": "7"},
			{"ID": "3", "ASSIGNED_BY_ID": "8"}
		]`),
		Total: 3,
	}
	caller.listAnswers["catalog.product.list"] = &bitrix.ListResult{
		Result: json.RawMessage(`{"products": []}`),
	}

	handler := NewHandler(caller, []int{7, 8}, noopLogger())

	result, err := handler.Handle(context.Background(), &Request{
		Phone:     "+77017654321",
		ProductID: 9999,
	})
	require.NoError(t, err)

	assert.True(t, result.ContactCreated)
	assert.Equal(t, int64(312), result.ContactID)
	assert.Equal(t, int64(8), result.ManagerID)
	assert.Equal(t, int64(902), result.DealID)
	// Unknown product degrades to a comment, a failed note degrades to false.
	assert.False(t, result.ProductAttached)
	assert.False(t, result.NotePosted)

	contactFields := caller.paramsOf("crm.contact.add")["fields"].(bitrix.Fields)
	assert.Equal(t, "+77017654321", contactFields["NAME"])
	assert.Equal(t, int64(8), contactFields["ASSIGNED_BY_ID"])

	updateFields := caller.paramsOf("crm.deal.update")["fields"].(bitrix.Fields)
	assert.Contains(t, updateFields["COMMENTS"], "Товар: 9999")
}

func TestHandleExistingCompany(t *testing.T) {
	caller := newFakeCaller(t)
	caller.answers["crm.duplicate.findbycomm"] = json.RawMessage(`{"COMPANY": [44]}`)
	caller.answers["crm.company.get"] = json.RawMessage(`{"ID": "44", "TITLE": "ТОО Ремонт", "ASSIGNED_BY_ID": "9"}`)
	caller.answers["crm.deal.add"] = json.RawMessage(`903`)
	caller.answers["crm.item.productrow.set"] = json.RawMessage(`true`)
	caller.answers["crm.timeline.comment.add"] = json.RawMessage(`78`)
	caller.listAnswers["catalog.product.list"] = &bitrix.ListResult{
		Result: json.RawMessage(`{"products": [{"id": 2002, "name": "Клапан", "xmlId": "33", "price": "5000|KZT"}]}`),
		Total:  1,
	}

	handler := NewHandler(caller, []int{7}, noopLogger())

	result, err := handler.Handle(context.Background(), &Request{
		Phone:     "+77010000000",
		ProductID: 33,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(44), result.CompanyID)
	assert.Zero(t, result.ContactID)
	assert.Equal(t, int64(9), result.ManagerID)

	dealFields := caller.paramsOf("crm.deal.add")["fields"].(bitrix.Fields)
	assert.Equal(t, int64(44), dealFields["COMPANY_ID"])
	assert.NotContains(t, dealFields, "CONTACT_ID")
}

func TestHandleNoManagersConfigured(t *testing.T) {
	caller := newFakeCaller(t)
	caller.answers["crm.duplicate.findbycomm"] = json.RawMessage(`[]`)

	handler := NewHandler(caller, nil, noopLogger())

	_, err := handler.Handle(context.Background(), &Request{Phone: "123", ProductID: 1})
	assert.ErrorContains(t, err, "no managers configured")
}
