package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/billing"
)

const windowDateLayout = "2006-01-02"

type billingApi struct {
	svc   *billing.Service
	queue core.TaskQueue
	conf  *core.Config
}

func registerBillingAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := billingApi{
		svc:   opts.BillingSvc,
		queue: opts.Queue,
		conf:  opts.Conf,
	}

	bg := g.Group("/billing", jwt, adminMiddleware())
	bg.GET("/invoices/preview", api.previewInvoices)
	bg.POST("/invoices/run", api.runInvoices)
	bg.GET("/payouts/preview", api.previewPayouts)
	bg.POST("/payouts/run", api.runPayouts)
	bg.POST("/aggregates/commit", api.commitAggregates)
}

// Handlers

func (api *billingApi) previewInvoices(ctx echo.Context) error {
	start, end, err := api.window(ctx, billing.KindWeekly)
	if err != nil {
		return err
	}
	totals, err := api.svc.AggregateForInvoicing(ctx.Request().Context(), start, end)
	if err != nil {
		return errors.Wrap(err, "previewing invoices")
	}
	return ctx.JSON(http.StatusOK, newWindowResponse(start, end, totals))
}

func (api *billingApi) previewPayouts(ctx echo.Context) error {
	start, end, err := api.window(ctx, billing.KindMonthly)
	if err != nil {
		return err
	}
	totals, err := api.svc.AggregateForPayout(ctx.Request().Context(), start, end)
	if err != nil {
		return errors.Wrap(err, "previewing payouts")
	}
	return ctx.JSON(http.StatusOK, newWindowResponse(start, end, totals))
}

// runInvoices enqueues the batch; charges run on the worker, never on the
// request path.
func (api *billingApi) runInvoices(ctx echo.Context) error {
	return api.enqueueBatch(ctx, billing.KindWeekly, core.TaskRunInvoices)
}

func (api *billingApi) runPayouts(ctx echo.Context) error {
	return api.enqueueBatch(ctx, billing.KindMonthly, core.TaskRunPayouts)
}

func (api *billingApi) enqueueBatch(ctx echo.Context, kind billing.AggregateKind, task string) error {
	start, end, err := api.window(ctx, kind)
	if err != nil {
		return err
	}
	payload := BatchWindow{Start: start.Format(windowDateLayout), End: end.Format(windowDateLayout)}
	if err = api.queue.Enqueue(ctx.Request().Context(), task, payload); err != nil {
		return errors.Wrap(err, "enqueuing "+task)
	}
	return ctx.JSON(http.StatusAccepted, payload)
}

func (api *billingApi) commitAggregates(ctx echo.Context) error {
	var data CommitAggregatesRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CommitAggregatesRequest")
	}
	kind := billing.AggregateKind(core.CleanString(data.Kind, true /* lower */))
	if kind != billing.KindWeekly && kind != billing.KindMonthly {
		return core.NewValidationError(
			errors.New("kind must be weekly or monthly"),
			core.FieldError{Field: "kind", Error: "must be weekly or monthly"})
	}

	start, end, err := api.window(ctx, kind)
	if err != nil {
		return err
	}
	res, err := api.svc.CommitAggregates(ctx.Request().Context(), kind, start, end)
	if err != nil {
		return errors.Wrap(err, "committing aggregates")
	}
	return ctx.JSON(http.StatusOK, res)
}

// window reads the optional start/end query params; absent both, it defaults
// to the previous closed window for the kind (last week, or last month).
func (api *billingApi) window(ctx echo.Context, kind billing.AggregateKind) (start, end time.Time, err error) {
	loc := api.conf.TimeZone
	startStr, endStr := ctx.QueryParam("start"), ctx.QueryParam("end")

	if startStr == "" && endStr == "" {
		now := time.Now().In(loc)
		if kind == billing.KindWeekly {
			start, end = core.WeekOf(now.AddDate(0, 0, -7))
			return start, end, nil
		}
		prev := now.AddDate(0, -1, 0)
		start, next := core.MonthRange(prev.Year(), prev.Month(), loc)
		return start, next.AddDate(0, 0, -1), nil
	}

	badWindow := func(field string) error {
		return core.NewValidationError(
			errors.New("invalid window"),
			core.FieldError{Field: field, Error: "must be a yyyy-mm-dd date"})
	}
	if start, err = time.ParseInLocation(windowDateLayout, startStr, loc); err != nil {
		return start, end, badWindow("start")
	}
	if end, err = time.ParseInLocation(windowDateLayout, endStr, loc); err != nil {
		return start, end, badWindow("end")
	}
	if end.Before(start) {
		return start, end, core.NewValidationError(errors.New("window end precedes its start"))
	}
	return start, end, nil
}

type (
	// BatchWindow is the queued payload of an invoice or payout run.
	BatchWindow struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}

	CommitAggregatesRequest struct {
		Kind string `json:"kind"`
	}

	WindowResponse struct {
		Start  string               `json:"start"`
		End    string               `json:"end"`
		Totals []billing.PartyTotal `json:"totals"`
	}
)

func newWindowResponse(start, end time.Time, totals []billing.PartyTotal) WindowResponse {
	if totals == nil {
		totals = []billing.PartyTotal{}
	}
	return WindowResponse{
		Start:  start.Format(windowDateLayout),
		End:    end.Format(windowDateLayout),
		Totals: totals,
	}
}
