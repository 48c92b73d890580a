package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
)

// DuplicateMatches is the answer of a duplicate search, split by owner kind.
type DuplicateMatches struct {
	Contacts  []int64 `json:"CONTACT"`
	Companies []int64 `json:"COMPANY"`
	Leads     []int64 `json:"LEAD"`
}

// FindDuplicatesByComm searches existing owners by a communication value,
// e.g. commType PHONE with one phone number.
func FindDuplicatesByComm(ctx context.Context, caller Caller, commType string, values []string) (*DuplicateMatches, error) {
	raw, err := caller.Call(ctx, "crm.duplicate.findbycomm", map[string]any{
		"type":   commType,
		"values": values,
	})
	if err != nil {
		return nil, err
	}

	// An empty match set arrives as [] instead of an object.
	var empty []any
	if err := json.Unmarshal(raw, &empty); err == nil {
		return &DuplicateMatches{}, nil
	}

	var matches DuplicateMatches
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode duplicate matches: %w", err)
	}
	return &matches, nil
}

// ProductRowSet is one row of a crm.item.productrow.set payload.
type ProductRowSet struct {
	ProductID    int64    `json:"productId,omitempty"`
	ProductName  string   `json:"productName,omitempty"`
	Price        float64  `json:"price"`
	Quantity     float64  `json:"quantity"`
	DiscountRate *float64 `json:"discountRate,omitempty"`
}

// SetProductRows replaces the product table of an owner entity.
func SetProductRows(ctx context.Context, caller Caller, ownerType string, ownerID int64, rows []ProductRowSet) error {
	_, err := caller.Call(ctx, "crm.item.productrow.set", map[string]any{
		"ownerType":   ownerType,
		"ownerId":     ownerID,
		"productRows": rows,
	})
	return err
}

// ListProductRows fetches the product table of an owner entity.
func ListProductRows(ctx context.Context, caller Caller, ownerType string, ownerID int64) ([]Fields, error) {
	page, err := caller.CallList(ctx, "crm.item.productrow.list", map[string]any{
		"filter": map[string]any{
			"=ownerType": ownerType,
			"=ownerId":   ownerID,
		},
	})
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		ProductRows []Fields `json:"productRows"`
	}
	if err := json.Unmarshal(page.Result, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode product rows: %w", err)
	}
	return wrapped.ProductRows, nil
}

// AddTimelineComment posts a comment onto an entity timeline and returns its
// id.
func AddTimelineComment(ctx context.Context, caller Caller, entityType string, entityID int64, comment string) (int64, error) {
	raw, err := caller.Call(ctx, "crm.timeline.comment.add", map[string]any{
		"fields": map[string]any{
			"ENTITY_ID":   entityID,
			"ENTITY_TYPE": entityType,
			"COMMENT":     comment,
		},
	})
	if err != nil {
		return 0, err
	}
	return decodeID(raw)
}

// ListTimelineComments fetches one page of timeline comments for an entity.
func ListTimelineComments(ctx context.Context, caller Caller, entityType string, entityID int64, start int) (*Page, error) {
	call := map[string]any{
		"filter": map[string]any{
			"ENTITY_ID":   entityID,
			"ENTITY_TYPE": entityType,
		},
		"order": map[string]string{"ID": "ASC"},
	}
	if start > 0 {
		call["start"] = start
	}

	page, err := caller.CallList(ctx, "crm.timeline.comment.list", call)
	if err != nil {
		return nil, err
	}

	var items []Fields
	if err := json.Unmarshal(page.Result, &items); err != nil {
		return nil, fmt.Errorf("failed to decode timeline comments: %w", err)
	}
	return &Page{Items: items, Total: page.Total, Next: page.Next}, nil
}

// ListAllTimelineComments walks timeline pages to the end.
func ListAllTimelineComments(ctx context.Context, caller Caller, entityType string, entityID int64) ([]Fields, error) {
	var all []Fields
	start := 0
	for {
		page, err := ListTimelineComments(ctx, caller, entityType, entityID, start)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Next == nil {
			return all, nil
		}
		start = *page.Next
	}
}

// BatchCommand is one named command of a batch call.
type BatchCommand struct {
	Name   string
	Method string
	Query  string
}

// Batch runs up to 50 commands in one round trip. Results and errors are
// keyed by command name.
func Batch(ctx context.Context, caller Caller, halt bool, commands []BatchCommand) (map[string]json.RawMessage, map[string]string, error) {
	cmd := make(map[string]string, len(commands))
	for _, command := range commands {
		method := command.Method
		if command.Query != "" {
			method = method + "?" + command.Query
		}
		cmd[command.Name] = method
	}

	haltFlag := 0
	if halt {
		haltFlag = 1
	}

	raw, err := caller.Call(ctx, "batch", map[string]any{
		"halt": haltFlag,
		"cmd":  cmd,
	})
	if err != nil {
		return nil, nil, err
	}

	var body struct {
		Result      map[string]json.RawMessage `json:"result"`
		ResultError map[string]string          `json:"result_error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, nil, fmt.Errorf("failed to decode batch result: %w", err)
	}
	return body.Result, body.ResultError, nil
}
