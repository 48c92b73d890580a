package oauth

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Register registers OAuth routes
func Register(g *echo.Group) {
	g.GET("/oauth/authorize", Authorize)
	g.GET("/oauth/callback", Callback)
}

// Authorize redirects the operator to the portal consent page.
func Authorize(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "oauth_handler.Authorize")
	defer span.End()

	_, client, err := ectoinject.GetContext[*bitrix.Client](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	return c.Redirect(http.StatusFound, client.AuthorizeURL())
}

// Callback completes the grant: the portal calls back with a code, we trade
// it for tokens and persist them.
func Callback(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "oauth_handler.Callback")
	defer span.End()

	code := c.QueryParam("code")
	if code == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	ctx, client, err := ectoinject.GetContext[*bitrix.Client](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := client.ExchangeCode(ctx, code); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "authorized"})
}
