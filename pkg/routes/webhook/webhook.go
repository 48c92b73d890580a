package webhook

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/appctx"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/webhook"
)

// Register registers webhook routes
func Register(g *echo.Group) {
	g.POST("/webhook", Handle)
}

type skippedResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Event      string `json:"event"`
	Timestamp  int64  `json:"timestamp"`
	Suggestion string `json:"suggestion"`
}

// Handle processes one portal webhook: parse the bracket form, verify the
// token and timestamp, then hand off to the service under the entity lock.
func Handle(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "webhook_handler.Handle")
	defer span.End()

	ctx, logger, err := ectoinject.GetContext[ectologger.Logger](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := c.Request().ParseForm(); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid form body")
	}

	payload, err := webhook.ParseForm(ctx, logger, c.Request().PostForm)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx = appctx.SetDomain(ctx, payload.Domain)
	ctx = appctx.SetEvent(ctx, payload.Event)

	ctx, verifier, err := ectoinject.GetContext[*webhook.Verifier](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	if err := verifier.Verify(payload, webhook.EventConfig{}); err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*webhook.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := service.Process(ctx, payload)
	if err != nil {
		return mapProcessError(c, payload, err)
	}

	return c.JSON(http.StatusOK, result)
}

func mapProcessError(c echo.Context, payload *webhook.Payload, err error) error {
	if errors.Is(err, webhook.ErrStillProcessing) {
		return c.JSON(http.StatusConflict, skippedResponse{
			Status:     "skipped",
			Message:    "entity is still being processed",
			Event:      payload.Event,
			Timestamp:  time.Now().Unix(),
			Suggestion: "the portal will redeliver; no action needed",
		})
	}

	var invalidState *reconcile.InvalidStateError
	if errors.As(err, &invalidState) {
		return httperror.NewHTTPError(http.StatusBadRequest, invalidState.Error())
	}
	if errors.Is(err, reconcile.ErrDealNotFound) {
		return httperror.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var syncErr *reconcile.SyncError
	if errors.As(err, &syncErr) {
		return httperror.NewHTTPError(http.StatusInternalServerError, syncErr.Error())
	}

	return err
}
