package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/complaint"
	"github.com/classhour/backend/core/user"
)

type complaintApi struct {
	svc      *complaint.Service
	userSvc  *user.Service
	validate *validator.Validate
}

func registerComplaintAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := complaintApi{
		svc:      opts.ComplaintSvc,
		userSvc:  opts.UserSvc,
		validate: opts.Validate,
	}

	cg := g.Group("/complaints", jwt)
	cg.POST("", api.create, roleMiddleware(user.RoleParent, user.RoleStudent))
	cg.GET("", api.query, adminMiddleware())
	cg.GET("/:id", api.retrieve, adminMiddleware())
	cg.POST("/:id/review", api.review, adminMiddleware())
	cg.POST("/:id/resolve", api.resolve, adminMiddleware())
}

// Handlers

func (api *complaintApi) create(ctx echo.Context) error {
	var data complaint.NewComplaint
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewComplaint")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := api.svc.Open(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "opening complaint")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *complaintApi) query(ctx echo.Context) error {
	tutorID := core.CleanString(ctx.QueryParam("tutor"))
	status := complaint.Status(core.CleanString(ctx.QueryParam("status"), true /* lower */))

	complaints, err := api.svc.Filter(ctx.Request().Context(), tutorID, status)
	if err != nil {
		return errors.Wrap(err, "querying complaints")
	}
	if complaints == nil {
		complaints = []complaint.Complaint{}
	}
	return ctx.JSON(http.StatusOK, complaints)
}

func (api *complaintApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding complaint")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *complaintApi) review(ctx echo.Context) error {
	return api.advance(ctx, api.svc.Review)
}

func (api *complaintApi) resolve(ctx echo.Context) error {
	return api.advance(ctx, api.svc.Resolve)
}

func (api *complaintApi) advance(
	ctx echo.Context,
	advance func(rctx context.Context, admin user.User, id string, r complaint.Reply) (complaint.Complaint, error),
) error {
	var data complaint.Reply
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Reply")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := advance(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "advancing complaint")
	}
	return ctx.JSON(http.StatusOK, c)
}
