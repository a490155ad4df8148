package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/user"
)

type hourApi struct {
	svc        *hours.Service
	userSvc    *user.Service
	dispatcher *core.EventDispatcher
	validate   *validator.Validate
}

func registerHourAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := hourApi{
		svc:        opts.HourSvc,
		userSvc:    opts.UserSvc,
		dispatcher: opts.Dispatcher,
		validate:   opts.Validate,
	}

	hg := g.Group("/hours", jwt)
	hg.POST("", api.log, roleMiddleware(user.RoleTutor))
	hg.POST("/bulk", api.bulkLog, adminMiddleware())
	hg.GET("", api.query)
	hg.GET("/:id", api.retrieve)
	hg.PUT("/:id", api.update, roleMiddleware(user.RoleTutor, user.RoleAdmin))
	hg.DELETE("/:id", api.destroy, roleMiddleware(user.RoleTutor))
	hg.POST("/:id/dispute", api.openDispute, roleMiddleware(user.RoleParent, user.RoleAdmin))

	dg := g.Group("/disputes", jwt)
	dg.GET("/:id", api.retrieveDispute)
	dg.POST("/:id/reply", api.replyToDispute, roleMiddleware(user.RoleTutor))
	dg.POST("/:id/resolve", api.resolveDispute, adminMiddleware())
	dg.POST("/:id/dismiss", api.dismissDispute, adminMiddleware())
	dg.POST("/:id/cancel", api.cancelDispute)
}

// Handlers

func (api *hourApi) log(ctx echo.Context) error {
	var data hours.NewHourRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHourRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	rec, events, err := api.svc.Log(rctx, ctxUsr.ID, data)
	if err != nil {
		return errors.Wrap(err, "logging hours")
	}
	api.dispatcher.Dispatch(rctx, events...)
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *hourApi) bulkLog(ctx echo.Context) error {
	var data BulkLogRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkLogRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	created, events, bulkErrs := api.svc.BulkLog(rctx, data.Entries)
	api.dispatcher.Dispatch(rctx, events...)

	if created == nil {
		created = []hours.HourRecord{}
	}
	if bulkErrs == nil {
		bulkErrs = []hours.BulkError{}
	}
	return ctx.JSON(http.StatusOK, BulkLogResponse{Created: created, Errors: bulkErrs})
}

// query limits non-admin callers to records they appear on.
func (api *hourApi) query(ctx echo.Context) error {
	filter := new(hours.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []hours.HourRecord{})
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	switch {
	case ctxUsr.IsAdmin():
	case ctxUsr.IsTutor():
		filter.TutorID = ctxUsr.ID
	case ctxUsr.IsParent():
		filter.ParentID = ctxUsr.ID
	default:
		filter.StudentID = ctxUsr.ID
	}

	recs, err := api.svc.Filter(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying hours")
	}
	if recs == nil {
		recs = []hours.HourRecord{}
	}
	return ctx.JSON(http.StatusOK, recs)
}

func (api *hourApi) retrieve(ctx echo.Context) error {
	rec, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding hour record")
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() &&
		rec.TutorID != ctxUsr.ID && rec.ParentID != ctxUsr.ID && rec.StudentID != ctxUsr.ID {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *hourApi) update(ctx echo.Context) error {
	var data hours.UpdateHourRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateHourRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rec, err := api.svc.Update(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating hour record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *hourApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting hour record")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *hourApi) openDispute(ctx echo.Context) error {
	var data hours.NewDispute
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDispute")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	d, events, err := api.svc.OpenDispute(rctx, ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "opening dispute")
	}
	api.dispatcher.Dispatch(rctx, events...)
	return ctx.JSON(http.StatusCreated, d)
}

func (api *hourApi) retrieveDispute(ctx echo.Context) error {
	d, err := api.svc.GetDispute(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding dispute")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *hourApi) replyToDispute(ctx echo.Context) error {
	var data hours.DisputeReply
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DisputeReply")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rec, err := api.svc.ReplyToDispute(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data.Reply)
	if err != nil {
		return errors.Wrap(err, "replying to dispute")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *hourApi) resolveDispute(ctx echo.Context) error {
	return api.closeDispute(ctx, api.svc.ResolveDispute)
}

func (api *hourApi) dismissDispute(ctx echo.Context) error {
	return api.closeDispute(ctx, api.svc.DismissDispute)
}

func (api *hourApi) closeDispute(
	ctx echo.Context,
	close func(rctx context.Context, admin user.User, id string, dr hours.DisputeReply) (hours.Dispute, error),
) error {
	var data hours.DisputeReply
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DisputeReply")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	d, err := close(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "closing dispute")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *hourApi) cancelDispute(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	d, err := api.svc.CancelDispute(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling dispute")
	}
	return ctx.JSON(http.StatusOK, d)
}

type (
	BulkLogRequest struct {
		Entries []hours.BulkHourRecord `json:"entries" validate:"required,min=1,dive"`
	}

	BulkLogResponse struct {
		Created []hours.HourRecord `json:"created"`
		Errors  []hours.BulkError  `json:"errors"`
	}
)

func (br *BulkLogRequest) Validate(validate *validator.Validate) error {
	for i := range br.Entries {
		br.Entries[i].TutorID = core.CleanString(br.Entries[i].TutorID)
		br.Entries[i].StudentID = core.CleanString(br.Entries[i].StudentID)
	}
	return validate.Struct(br)
}
