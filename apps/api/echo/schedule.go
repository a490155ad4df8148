package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/schedule"
	"github.com/classhour/backend/core/user"
)

type scheduleApi struct {
	svc      *schedule.Service
	userSvc  *user.Service
	queue    core.TaskQueue
	validate *validator.Validate
}

func registerScheduleAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := scheduleApi{
		svc:      opts.ScheduleSvc,
		userSvc:  opts.UserSvc,
		queue:    opts.Queue,
		validate: opts.Validate,
	}

	sg := g.Group("/schedule", jwt)
	sg.POST("/calendar/connect", api.connectCalendar, roleMiddleware(user.RoleTutor))
	sg.POST("/lessons", api.create, roleMiddleware(user.RoleTutor))
	sg.GET("/lessons", api.query, roleMiddleware(user.RoleTutor))
	sg.PUT("/lessons/:id", api.reschedule, roleMiddleware(user.RoleTutor))
	sg.POST("/lessons/:id/rsvp", api.rsvp, roleMiddleware(user.RoleStudent))
}

// Handlers

func (api *scheduleApi) connectCalendar(ctx echo.Context) error {
	var data ConnectCalendarRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConnectCalendarRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.ConnectCalendar(ctx.Request().Context(), ctxUsr, data.Code); err != nil {
		return errors.Wrap(err, "connecting calendar")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Calendar connected."})
}

func (api *scheduleApi) create(ctx echo.Context) error {
	var data schedule.NewLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	lesson, err := api.svc.Schedule(rctx, ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "scheduling lesson")
	}

	// calendar mirror failed at booking time; retry it off the request path
	if ctxUsr.HasCalendar() && lesson.CalendarEventID == "" {
		payload := echo.Map{"lesson_id": lesson.ID}
		if qerr := api.queue.Enqueue(rctx, core.TaskCalendarSync, payload); qerr != nil {
			ctx.Logger().Errorf("%+v", errors.Wrap(qerr, "enqueuing calendar sync"))
		}
	}
	return ctx.JSON(http.StatusCreated, lesson)
}

func (api *scheduleApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	// default listing window: the coming four weeks
	from, to := time.Now().UTC(), time.Now().UTC().AddDate(0, 0, 28)
	if v := ctx.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return core.NewValidationError(errors.New("invalid from"), core.FieldError{Field: "from", Error: "must be an RFC3339 timestamp"})
		}
	}
	if v := ctx.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return core.NewValidationError(errors.New("invalid to"), core.FieldError{Field: "to", Error: "must be an RFC3339 timestamp"})
		}
	}

	lessons, err := api.svc.ListByTutor(ctx.Request().Context(), ctxUsr.ID, from, to)
	if err != nil {
		return errors.Wrap(err, "listing lessons")
	}
	if lessons == nil {
		lessons = []schedule.Lesson{}
	}
	return ctx.JSON(http.StatusOK, lessons)
}

func (api *scheduleApi) reschedule(ctx echo.Context) error {
	var data RescheduleRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RescheduleRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	lesson, err := api.svc.Reschedule(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data.StartsAt, data.EndsAt)
	if err != nil {
		return errors.Wrap(err, "rescheduling lesson")
	}
	return ctx.JSON(http.StatusOK, lesson)
}

func (api *scheduleApi) rsvp(ctx echo.Context) error {
	var data RSVPRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RSVPRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	status := core.RSVPStatus(data.Status)
	if err = api.svc.RSVP(ctx.Request().Context(), ctxUsr, ctx.Param("id"), status); err != nil {
		return errors.Wrap(err, "answering rsvp")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "RSVP recorded."})
}

type (
	ConnectCalendarRequest struct {
		Code string `json:"code" validate:"required"`
	}

	RescheduleRequest struct {
		StartsAt time.Time `json:"starts_at" validate:"required"`
		EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	}

	RSVPRequest struct {
		Status string `json:"status" validate:"required,oneof=accepted declined tentative"`
	}
)

func (cr *ConnectCalendarRequest) Validate(validate *validator.Validate) error {
	cr.Code = core.CleanString(cr.Code)
	return validate.Struct(cr)
}

func (rr *RescheduleRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(rr)
}

func (rr *RSVPRequest) Validate(validate *validator.Validate) error {
	rr.Status = core.CleanString(rr.Status, true /* lower */)
	return validate.Struct(rr)
}
