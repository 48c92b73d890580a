package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/syncctx"
)

var reconcileNow = time.Date(2025, 11, 20, 15, 4, 5, 0, time.UTC)
var reconcileToday = time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)

const (
	qStageBySort = `FROM deal_stages WHERE sort_order = \$1`
	qStageByID   = `FROM deal_stages WHERE external_id = \$1`
	qDealExists  = `SELECT 1 FROM deals WHERE external_id = \$1`
	qDealInsert  = `INSERT INTO deals`
	qDealUpdate  = `UPDATE deals SET`
	qDealSelect  = `SELECT deals\..+ FROM deals WHERE external_id = \$1`
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type portalCall struct {
	externalID int64
	fields     bitrix.Fields
}

type fakePortal struct {
	calls []portalCall
	err   error
}

func (p *fakePortal) Update(_ context.Context, externalID int64, fields bitrix.Fields) error {
	p.calls = append(p.calls, portalCall{externalID: externalID, fields: fields})
	return p.err
}

type engineHarness struct {
	engine *Engine
	sc     *syncctx.Context
	mock   sqlmock.Sqlmock
	portal *fakePortal
	ctx    context.Context
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	logger := noopLogger()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), logger)
	mock.ExpectBegin()
	ctx, tx, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)

	deals := repositories.NewStore(db, logger, repositories.Config[*models.Deal]{
		Table: "deals",
		Kind:  models.KindDeal,
		New:   func() *models.Deal { return new(models.Deal) },
	})
	stages := repositories.NewStageRepository(db, logger)
	portal := &fakePortal{}

	engine := NewEngine(deals, stages, portal, logger)
	engine.SetClock(func() time.Time { return reconcileNow })

	return &engineHarness{
		engine: engine,
		sc:     syncctx.New(tx),
		mock:   mock,
		portal: portal,
		ctx:    ctx,
	}
}

func (h *engineHarness) done(t *testing.T) {
	t.Helper()
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func stageRow(externalID string, sortOrder int, semantic models.StageSemantic) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "external_id", "name", "sort_order", "semantic"}).
		AddRow(int64(sortOrder), externalID, externalID, sortOrder, string(semantic))
}

func dealRow(d *models.Deal) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "external_id", "title", "category_id", "stage_id", "stage_semantic_id",
		"status_deal", "opportunity", "currency", "probability", "is_new", "is_recurring",
		"company_id", "contact_id", "lead_id", "assigned_by_id", "created_by_id",
		"modify_by_id", "moved_by_id", "last_activity_by_id", "begindate", "closedate",
		"moved_date", "source_id", "source_description", "comments",
		"is_deleted_in_bitrix", "created_at", "updated_at",
	})
	rows.AddRow(
		int64(1), d.ExternalID, d.Title, d.CategoryID, d.StageID, string(d.StageSemanticID),
		string(d.StatusDeal), d.Opportunity, d.Currency, nullInt(d.Probability), d.IsNew, d.IsRecurring,
		nullInt64(d.CompanyID), nullInt64(d.ContactID), nullInt64(d.LeadID), d.AssignedByID, d.CreatedByID,
		nullInt64(d.ModifyByID), nullInt64(d.MovedByID), nullInt64(d.LastActivityByID),
		nullTime(d.BeginDate), nullTime(d.CloseDate), nullTime(d.MovedDate),
		nullStr(d.SourceID), nullStr(d.SourceDescription), nullStr(d.Comments),
		d.IsDeletedInBitrix, reconcileNow, reconcileNow,
	)
	return rows
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func portalDeal() *models.Deal {
	return &models.Deal{
		ExternalID:      42,
		Title:           "Насосное оборудование",
		StageID:         "NEW",
		StageSemanticID: models.SemanticProspective,
		StatusDeal:      models.StatusNew,
		Opportunity:     150000,
		Currency:        "KZT",
		AssignedByID:    7,
		CreatedByID:     7,
	}
}

func localCopy(d *models.Deal) *models.Deal {
	c := *d
	return &c
}

func TestReconcileRejectsOtherFunnels(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.CategoryID = 3

	_, err := h.engine.Reconcile(h.ctx, h.sc, b24, nil)
	assert.ErrorIs(t, err, ErrNotInMainFunnel)
	assert.Empty(t, h.portal.calls)
	h.done(t)
}

func TestReconcileFirstImport(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StatusDeal = ""

	h.mock.ExpectQuery(qStageBySort).
		WillReturnRows(stageRow("NEW", 1, models.SemanticProspective))
	h.mock.ExpectQuery(qDealExists).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	h.mock.ExpectExec(qDealInsert).
		WillReturnResult(sqlmock.NewResult(1, 1))

	persisted, err := h.engine.Reconcile(h.ctx, h.sc, b24, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusNew, persisted.StatusDeal)
	assert.Equal(t, "NEW", persisted.StageID)
	require.NotNil(t, persisted.MovedDate)
	assert.True(t, persisted.MovedDate.Equal(reconcileToday))

	require.Len(t, h.portal.calls, 1)
	call := h.portal.calls[0]
	assert.Equal(t, int64(42), call.externalID)
	assert.Equal(t, models.StatusNew, call.fields["UF_CRM_STATUS_DEAL"])
	assert.Contains(t, call.fields, "UF_CRM_MOVED_DATE")
	h.done(t)
}

func TestReconcileFirstImportConflictFallsBackToUpdate(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StatusDeal = ""

	h.mock.ExpectQuery(qStageBySort).
		WillReturnRows(stageRow("NEW", 1, models.SemanticProspective))
	h.mock.ExpectQuery(qDealExists).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	// Concurrent import won the insert race.
	h.mock.ExpectExec(qDealInsert).
		WillReturnError(&pq.Error{Code: "23505"})
	h.mock.ExpectExec(qDealUpdate).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(qDealSelect).
		WillReturnRows(dealRow(b24))

	_, err := h.engine.Reconcile(h.ctx, h.sc, b24, nil)
	require.NoError(t, err)
	require.Len(t, h.portal.calls, 1)
	h.done(t)
}

func TestReconcileFailedDealForcesLose(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StageID = "LOSE"
	b24.StageSemanticID = models.SemanticFail
	b24.StatusDeal = models.StatusAccepted

	local := portalDeal()
	local.StatusDeal = models.StatusAccepted

	h.mock.ExpectExec(qDealUpdate).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(qDealSelect).
		WillReturnRows(dealRow(b24))

	persisted, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDealLose, persisted.StatusDeal)
	require.NotNil(t, persisted.MovedDate)
	assert.True(t, persisted.MovedDate.Equal(reconcileToday))

	require.Len(t, h.portal.calls, 1)
	assert.Equal(t, models.StatusDealLose, h.portal.calls[0].fields["UF_CRM_STATUS_DEAL"])
	h.done(t)
}

func TestReconcileStatusEditRolledBack(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StatusDeal = models.StatusAccepted

	local := portalDeal()
	local.StatusDeal = models.StatusNew

	_, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)

	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, int64(42), invalid.ExternalID)
	assert.Equal(t, "NEW", invalid.DBStatus)
	assert.Equal(t, "ACCEPTED", invalid.B24Status)

	// The portal copy is corrected to the local status; nothing is written
	// to the database.
	require.Len(t, h.portal.calls, 1)
	assert.Equal(t, "NEW", h.portal.calls[0].fields["UF_CRM_STATUS_DEAL"])
	h.done(t)
}

func TestReconcileStatusRollbackPortalFailure(t *testing.T) {
	h := newEngineHarness(t)
	h.portal.err = errors.New("portal down")

	b24 := portalDeal()
	b24.StatusDeal = models.StatusAccepted
	local := portalDeal()

	_, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "status rollback", syncErr.Stage)
	h.done(t)
}

func TestReconcileNewDealClampedToSecondStage(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StageID = "EXECUTING"
	local := portalDeal()

	h.mock.ExpectQuery(qStageByID).
		WillReturnRows(stageRow("EXECUTING", 4, models.SemanticProspective))
	h.mock.ExpectQuery(qStageBySort).
		WillReturnRows(stageRow("PREPARATION", 2, models.SemanticProspective))
	h.mock.ExpectExec(qDealUpdate).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(qDealSelect).
		WillReturnRows(dealRow(b24))

	persisted, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	require.NoError(t, err)

	assert.Equal(t, "PREPARATION", persisted.StageID)
	assert.Equal(t, models.StatusAccepted, persisted.StatusDeal)

	require.Len(t, h.portal.calls, 1)
	fields := h.portal.calls[0].fields
	assert.Equal(t, "PREPARATION", fields["STAGE_ID"])
	assert.Equal(t, models.SemanticProspective, fields["STAGE_SEMANTIC_ID"])
	assert.Equal(t, models.StatusAccepted, fields["UF_CRM_STATUS_DEAL"])
	h.done(t)
}

func TestReconcileAcceptedAdvancesWithCompanyAndProducts(t *testing.T) {
	h := newEngineHarness(t)

	companyID := int64(9)
	b24 := portalDeal()
	b24.StageID = "PREPARATION"
	b24.StatusDeal = models.StatusAccepted
	b24.CompanyID = &companyID
	local := localCopy(b24)

	var checked bool
	h.engine.SetProductCheck(func(_ context.Context, _ *syncctx.Context, deal *models.Deal) (bool, error) {
		checked = true
		assert.Equal(t, int64(42), deal.ExternalID)
		return true, nil
	})

	h.mock.ExpectQuery(qStageByID).
		WillReturnRows(stageRow("PREPARATION", 2, models.SemanticProspective))
	h.mock.ExpectQuery(qStageBySort).
		WillReturnRows(stageRow("PREPAYMENT_INVOICE", 3, models.SemanticProspective))
	h.mock.ExpectExec(qDealUpdate).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(qDealSelect).
		WillReturnRows(dealRow(b24))

	persisted, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	require.NoError(t, err)

	assert.True(t, checked)
	assert.Equal(t, "PREPAYMENT_INVOICE", persisted.StageID)
	assert.Equal(t, models.StatusAccepted, persisted.StatusDeal)

	require.Len(t, h.portal.calls, 1)
	assert.Equal(t, "PREPAYMENT_INVOICE", h.portal.calls[0].fields["STAGE_ID"])
	h.done(t)
}

func TestReconcileAcceptedStaysWithoutCompany(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StageID = "PREPARATION"
	b24.StatusDeal = models.StatusAccepted
	local := localCopy(b24)

	h.mock.ExpectQuery(qStageByID).
		WillReturnRows(stageRow("PREPARATION", 2, models.SemanticProspective))

	persisted, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	require.NoError(t, err)

	assert.Same(t, local, persisted)
	assert.Empty(t, h.portal.calls)
	h.done(t)
}

func TestReconcileUnknownStatusLeftAlone(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StatusDeal = "ON_HOLD"
	local := localCopy(b24)

	persisted, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	require.NoError(t, err)

	assert.Same(t, local, persisted)
	assert.Empty(t, h.portal.calls)
	h.done(t)
}

func TestReconcileExternalOnlyChangesSkipPortal(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StatusDeal = "ON_HOLD"
	b24.Title = "Новый заголовок"
	local := portalDeal()
	local.StatusDeal = "ON_HOLD"

	h.mock.ExpectExec(qDealUpdate).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(qDealSelect).
		WillReturnRows(dealRow(b24))

	_, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	require.NoError(t, err)

	// Portal-originated edits are persisted without echoing back.
	assert.Empty(t, h.portal.calls)
	h.done(t)
}

func TestReconcileUpdateMissingRow(t *testing.T) {
	h := newEngineHarness(t)

	b24 := portalDeal()
	b24.StatusDeal = "ON_HOLD"
	b24.Title = "Новый заголовок"
	local := portalDeal()
	local.StatusDeal = "ON_HOLD"

	h.mock.ExpectExec(qDealUpdate).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := h.engine.Reconcile(h.ctx, h.sc, b24, local)
	assert.ErrorIs(t, err, ErrDealNotFound)
	h.done(t)
}
