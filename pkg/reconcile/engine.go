package reconcile

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// PortalWriter is the portal-side write surface the engine needs.
type PortalWriter interface {
	Update(ctx context.Context, externalID int64, fields bitrix.Fields) error
}

// ProductCheck decides whether a deal's product table qualifies it for the
// third funnel position.
type ProductCheck func(ctx context.Context, sc *syncctx.Context, deal *models.Deal) (bool, error)

// Engine reconciles a portal deal against its local row and produces the
// minimal write set for both sides. DB writes always precede portal writes.
type Engine struct {
	deals        *repositories.Store[*models.Deal]
	stages       *repositories.StageRepository
	portal       PortalWriter
	productCheck ProductCheck
	clock        func() time.Time
	aliasChoice  int
	logger       ectologger.Logger
}

func NewEngine(deals *repositories.Store[*models.Deal], stages *repositories.StageRepository, portal PortalWriter, logger ectologger.Logger) *Engine {
	return &Engine{
		deals:        deals,
		stages:       stages,
		portal:       portal,
		productCheck: func(context.Context, *syncctx.Context, *models.Deal) (bool, error) { return true, nil },
		clock:        time.Now,
		aliasChoice:  1,
		logger:       logger,
	}
}

// SetProductCheck replaces the default always-true predicate.
func (e *Engine) SetProductCheck(check ProductCheck) {
	e.productCheck = check
}

// SetClock replaces the time source.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Reconcile applies the funnel policy to the portal copy of a deal, using
// the local row as the authority for status. dealDB is nil on first
// observation. It returns the deal as persisted.
func (e *Engine) Reconcile(ctx context.Context, sc *syncctx.Context, dealB24, dealDB *models.Deal) (*models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Reconcile")
	defer span.End()

	if dealB24.CategoryID != 0 {
		return nil, ErrNotInMainFunnel
	}

	first := dealDB == nil
	today := e.today()
	working := *dealB24
	tracker := NewTracker()

	switch {
	case working.StageSemanticID == models.SemanticFail:
		if working.StatusDeal != models.StatusDealLose {
			working.StatusDeal = models.StatusDealLose
			tracker.Set("status_deal", working.StatusDeal)
		}
		if working.MovedDate == nil || !sameDay(*working.MovedDate, today) {
			working.MovedDate = &today
			tracker.Set("moved_date", today)
		}

	case first:
		if working.StatusDeal != models.StatusNew {
			working.StatusDeal = models.StatusNew
			tracker.Set("status_deal", working.StatusDeal)
		}
		firstStage, err := e.stages.GetBySortOrder(ctx, sc, 1)
		if err != nil {
			return nil, err
		}
		if working.StageID != firstStage.ExternalID {
			working.StageID = firstStage.ExternalID
			working.StageSemanticID = firstStage.Semantic
			tracker.Set("stage_id", working.StageID)
			tracker.Set("stage_semantic_id", working.StageSemanticID)
		}
		if working.MovedDate == nil || !sameDay(*working.MovedDate, today) {
			working.MovedDate = &today
			tracker.Set("moved_date", today)
		}

	case working.StatusDeal != dealDB.StatusDeal:
		// Status is DB-authoritative: correct the portal and stop.
		rollback := bitrix.EncodeDealFields(map[string]any{
			"status_deal": string(dealDB.StatusDeal),
		}, e.aliasChoice)
		if err := e.portal.Update(ctx, working.ExternalID, rollback); err != nil {
			return nil, &SyncError{ExternalID: working.ExternalID, Stage: "status rollback", Err: err}
		}
		return nil, &InvalidStateError{
			ExternalID: working.ExternalID,
			DBStatus:   string(dealDB.StatusDeal),
			B24Status:  string(working.StatusDeal),
		}

	default:
		if err := e.dispatch(ctx, sc, &working, tracker); err != nil {
			return nil, err
		}
	}

	var external map[string]any
	if !first {
		external = diffDeals(dealB24, dealDB)
	}

	if !tracker.HasChanges() && len(external) == 0 && !first {
		return dealDB, nil
	}

	persisted, err := e.persist(ctx, sc, &working, tracker, external, first)
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

func (e *Engine) dispatch(ctx context.Context, sc *syncctx.Context, working *models.Deal, tracker *Tracker) error {
	switch working.StatusDeal {
	case models.StatusNew:
		current, err := e.stages.GetByStageID(ctx, sc, working.StageID)
		if err != nil {
			return err
		}
		if current.SortOrder > 1 {
			second, err := e.stages.GetBySortOrder(ctx, sc, 2)
			if err != nil {
				return err
			}
			working.StageID = second.ExternalID
			working.StageSemanticID = second.Semantic
			working.StatusDeal = models.StatusAccepted
			tracker.Set("stage_id", working.StageID)
			tracker.Set("stage_semantic_id", working.StageSemanticID)
			tracker.Set("status_deal", working.StatusDeal)
		}

	case models.StatusAccepted:
		available := 2
		if working.HasCompany() {
			ok, err := e.productCheck(ctx, sc, working)
			if err != nil {
				return err
			}
			if ok {
				available = 3
			}
		}
		current, err := e.stages.GetByStageID(ctx, sc, working.StageID)
		if err != nil {
			return err
		}
		if current.SortOrder != available {
			target, err := e.stages.GetBySortOrder(ctx, sc, available)
			if err != nil {
				return err
			}
			working.StageID = target.ExternalID
			working.StageSemanticID = target.Semantic
			tracker.Set("stage_id", working.StageID)
			tracker.Set("stage_semantic_id", working.StageSemanticID)
		}

	default:
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"deal_id": working.ExternalID,
			"status":  working.StatusDeal,
		}).Warnf("No policy for deal status, leaving as is")
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, sc *syncctx.Context, working *models.Deal, tracker *Tracker, external map[string]any, first bool) (*models.Deal, error) {
	if first {
		if err := e.deals.Create(ctx, sc, working, nil); err != nil {
			if !repositories.IsConflict(err) {
				return nil, &SyncError{ExternalID: working.ExternalID, Stage: "db create", Err: err}
			}
			// Raced with a concurrent import; fall through to update.
			if _, err := e.deals.Update(ctx, sc, working.ExternalID, tracker.Merge(external), nil); err != nil {
				return nil, &SyncError{ExternalID: working.ExternalID, Stage: "db update", Err: err}
			}
		}
	} else {
		if _, err := e.deals.Update(ctx, sc, working.ExternalID, tracker.Merge(external), nil); err != nil {
			if repositories.IsNotFound(err) {
				return nil, ErrDealNotFound
			}
			return nil, &SyncError{ExternalID: working.ExternalID, Stage: "db update", Err: err}
		}
	}

	if tracker.HasChanges() {
		fields := bitrix.EncodeDealFields(tracker.Changes(), e.aliasChoice)
		if err := e.portal.Update(ctx, working.ExternalID, fields); err != nil {
			return nil, &SyncError{ExternalID: working.ExternalID, Stage: "portal update", Err: err}
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"deal_id":  working.ExternalID,
		"first":    first,
		"policy":   tracker.Changes(),
		"external": len(external),
	}).Infof("Reconciled deal")
	return working, nil
}

func (e *Engine) today() time.Time {
	now := e.clock()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// diffDeals computes the portal-vs-local field diff, skipping bookkeeping
// columns and the DB-authoritative status.
func diffDeals(b24, db *models.Deal) map[string]any {
	out := make(map[string]any)

	if b24.Title != db.Title {
		out["title"] = b24.Title
	}
	if b24.StageID != db.StageID {
		out["stage_id"] = b24.StageID
	}
	if b24.StageSemanticID != db.StageSemanticID {
		out["stage_semantic_id"] = b24.StageSemanticID
	}
	if b24.Opportunity != db.Opportunity {
		out["opportunity"] = b24.Opportunity
	}
	if b24.Currency != db.Currency {
		out["currency"] = b24.Currency
	}
	if !eqIntPtr(b24.Probability, db.Probability) {
		out["probability"] = b24.Probability
	}
	if !eqInt64Ptr(b24.CompanyID, db.CompanyID) {
		out["company_id"] = b24.CompanyID
	}
	if !eqInt64Ptr(b24.ContactID, db.ContactID) {
		out["contact_id"] = b24.ContactID
	}
	if !eqInt64Ptr(b24.LeadID, db.LeadID) {
		out["lead_id"] = b24.LeadID
	}
	if b24.AssignedByID != db.AssignedByID {
		out["assigned_by_id"] = b24.AssignedByID
	}
	if !eqInt64Ptr(b24.ModifyByID, db.ModifyByID) {
		out["modify_by_id"] = b24.ModifyByID
	}
	if !eqInt64Ptr(b24.MovedByID, db.MovedByID) {
		out["moved_by_id"] = b24.MovedByID
	}
	if !eqInt64Ptr(b24.LastActivityByID, db.LastActivityByID) {
		out["last_activity_by_id"] = b24.LastActivityByID
	}
	if !eqTimePtr(b24.BeginDate, db.BeginDate) {
		out["begindate"] = b24.BeginDate
	}
	if !eqTimePtr(b24.CloseDate, db.CloseDate) {
		out["closedate"] = b24.CloseDate
	}
	if !eqStrPtr(b24.SourceID, db.SourceID) {
		out["source_id"] = b24.SourceID
	}
	if !eqStrPtr(b24.SourceDescription, db.SourceDescription) {
		out["source_description"] = b24.SourceDescription
	}
	if !eqStrPtr(b24.Comments, db.Comments) {
		out["comments"] = b24.Comments
	}

	return out
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
