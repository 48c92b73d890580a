package siterequest

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/siterequest"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var validate = validator.New()

// Register registers site request routes
func Register(g *echo.Group) {
	g.GET("/site-request", Handle)
}

// Handle opens a deal for one price request coming from the site form or the
// mail worker.
func Handle(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "siterequest_handler.Handle")
	defer span.End()

	productID, err := strconv.ParseInt(c.QueryParam("product_id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "product_id must be an integer")
	}

	req := siterequest.Request{
		Phone:       c.QueryParam("phone"),
		ProductID:   productID,
		ProductName: c.QueryParam("product_name"),
		Name:        c.QueryParam("name"),
		Comment:     c.QueryParam("comment"),
		MessageID:   c.QueryParam("message_id"),
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, handler, err := ectoinject.GetContext[*siterequest.Handler](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := handler.Handle(ctx, &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
