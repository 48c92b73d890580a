package sync

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Register registers manual sync trigger routes
func Register(g *echo.Group) {
	g.POST("/sync/departments", Departments)
}

// Departments pulls the whole department forest from the portal into the
// local store. Meant for operators; the forest changes rarely.
func Departments(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "sync_handler.Departments")
	defer span.End()

	ctx, db, err := ectoinject.GetContext[database.DB](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, pipeline, err := ectoinject.GetContext[*ingest.Pipeline](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ctx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}

	sc := syncctx.New(tx)
	defer sc.Reset()

	count, err := pipeline.ImportAllDepartments(ctx, sc)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	return c.JSON(http.StatusOK, map[string]any{"imported": count})
}
