package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ImportAllDepartments pulls the whole department forest and upserts every
// node. Parent links may run forward within the same pull, so nothing gates
// on existence here.
func (p *Pipeline) ImportAllDepartments(ctx context.Context, sc *syncctx.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.ImportAllDepartments")
	defer span.End()

	var all []bitrix.Fields
	start := 0
	for {
		page, err := p.caller.CallList(ctx, "department.get", map[string]any{"START": start})
		if err != nil {
			return 0, err
		}

		var items []bitrix.Fields
		if err := json.Unmarshal(page.Result, &items); err != nil {
			return 0, fmt.Errorf("failed to decode department list: %w", err)
		}
		all = append(all, items...)
		if page.Next == nil {
			break
		}
		start = *page.Next
	}

	count := 0
	for _, fields := range all {
		department := bitrix.DecodeDepartment(fields)
		if department.ExternalID == 0 {
			continue
		}
		if err := createOrReplace(ctx, sc, p.stores.Departments, department); err != nil {
			return count, err
		}
		sc.MarkUpdated(models.Key{Kind: models.KindDepartment, ExternalID: department.ExternalID})
		count++
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"departments": count,
	}).Info("Imported departments")
	return count, nil
}
