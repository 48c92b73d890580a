package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Namespace selects how an adapter spells its method names.
type Namespace int

const (
	// NamespaceCRM uses classic crm.<entity>.<action> methods.
	NamespaceCRM Namespace = iota
	// NamespaceItem uses crm.item.<action> with an entityTypeId parameter.
	NamespaceItem
	// NamespaceCatalog uses catalog.product.* methods.
	NamespaceCatalog
)

// Fields is a raw field bag as the portal serves and accepts it.
type Fields map[string]any

// ListParams shapes one page request of a list method.
type ListParams struct {
	Select []string
	Filter map[string]any
	Order  map[string]string
	Start  int
}

// Page is one decoded page of list results.
type Page struct {
	Items []Fields
	Total int
	Next  *int
}

// Adapter maps one entity kind onto the portal's method surface.
type Adapter struct {
	caller       Caller
	kind         models.Kind
	namespace    Namespace
	entity       string
	entityTypeID int
}

func NewAdapter(caller Caller, kind models.Kind, namespace Namespace, entity string, entityTypeID int) *Adapter {
	return &Adapter{
		caller:       caller,
		kind:         kind,
		namespace:    namespace,
		entity:       entity,
		entityTypeID: entityTypeID,
	}
}

func (a *Adapter) Kind() models.Kind {
	return a.kind
}

func (a *Adapter) method(action string) string {
	switch a.namespace {
	case NamespaceItem:
		return "crm.item." + action
	case NamespaceCatalog:
		return "catalog.product." + action
	default:
		return fmt.Sprintf("crm.%s.%s", a.entity, action)
	}
}

func (a *Adapter) withEntityType(params map[string]any) map[string]any {
	if a.namespace == NamespaceItem {
		params["entityTypeId"] = a.entityTypeID
	}
	return params
}

// Get fetches one record. Missing records yield ErrNotFound.
func (a *Adapter) Get(ctx context.Context, externalID int64) (Fields, error) {
	raw, err := a.caller.Call(ctx, a.method("get"), a.withEntityType(map[string]any{
		"id": externalID,
	}))
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s %d", ErrNotFound, a.kind, externalID)
		}
		return nil, err
	}
	return a.decodeOne(raw)
}

// Add creates a record and returns the portal-assigned id.
func (a *Adapter) Add(ctx context.Context, fields Fields) (int64, error) {
	raw, err := a.caller.Call(ctx, a.method("add"), a.withEntityType(map[string]any{
		"fields": fields,
	}))
	if err != nil {
		return 0, err
	}
	return decodeID(raw)
}

// Update writes the given fields onto an existing record.
func (a *Adapter) Update(ctx context.Context, externalID int64, fields Fields) error {
	_, err := a.caller.Call(ctx, a.method("update"), a.withEntityType(map[string]any{
		"id":     externalID,
		"fields": fields,
	}))
	if err != nil && IsNotFound(err) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, a.kind, externalID)
	}
	return err
}

// Delete removes a record portal-side.
func (a *Adapter) Delete(ctx context.Context, externalID int64) error {
	_, err := a.caller.Call(ctx, a.method("delete"), a.withEntityType(map[string]any{
		"id": externalID,
	}))
	if err != nil && IsNotFound(err) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, a.kind, externalID)
	}
	return err
}

// List fetches one page of at most PageSize records.
func (a *Adapter) List(ctx context.Context, params ListParams) (*Page, error) {
	call := map[string]any{}
	if len(params.Select) > 0 {
		call["select"] = params.Select
	}
	if len(params.Filter) > 0 {
		call["filter"] = params.Filter
	}
	if len(params.Order) > 0 {
		call["order"] = params.Order
	}
	if params.Start > 0 {
		call["start"] = params.Start
	}

	page, err := a.caller.CallList(ctx, a.method("list"), a.withEntityType(call))
	if err != nil {
		return nil, err
	}

	items, err := a.decodeMany(page.Result)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: page.Total, Next: page.Next}, nil
}

// ListAll walks pages until the portal stops returning a next offset.
func (a *Adapter) ListAll(ctx context.Context, params ListParams) ([]Fields, error) {
	var all []Fields
	for {
		page, err := a.List(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Next == nil {
			return all, nil
		}
		params.Start = *page.Next
	}
}

// Item namespace answers wrap the record in {"item": {...}}; list answers in
// {"items": [...]}. Classic namespaces return the record bare.
func (a *Adapter) decodeOne(raw json.RawMessage) (Fields, error) {
	if a.namespace == NamespaceItem {
		var wrapped struct {
			Item Fields `json:"item"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode %s item: %w", a.kind, err)
		}
		return wrapped.Item, nil
	}
	if a.namespace == NamespaceCatalog {
		var wrapped struct {
			Product Fields `json:"product"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode %s product: %w", a.kind, err)
		}
		if wrapped.Product != nil {
			return wrapped.Product, nil
		}
	}

	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", a.kind, err)
	}
	return fields, nil
}

func (a *Adapter) decodeMany(raw json.RawMessage) ([]Fields, error) {
	switch a.namespace {
	case NamespaceItem:
		var wrapped struct {
			Items []Fields `json:"items"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode %s items: %w", a.kind, err)
		}
		return wrapped.Items, nil
	case NamespaceCatalog:
		var wrapped struct {
			Products []Fields `json:"products"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode %s products: %w", a.kind, err)
		}
		return wrapped.Products, nil
	default:
		var items []Fields
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode %s list: %w", a.kind, err)
		}
		return items, nil
	}
}

// decodeID handles the portal's two add-result shapes: a bare id and
// {"item": {"id": N}}.
func decodeID(raw json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strconv.ParseInt(asString, 10, 64)
	}

	var wrapped struct {
		Item struct {
			ID int64 `json:"id"`
		} `json:"item"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Item.ID != 0 {
		return wrapped.Item.ID, nil
	}
	return 0, fmt.Errorf("failed to decode add result %q", string(raw))
}
