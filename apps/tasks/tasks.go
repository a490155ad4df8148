// Package tasks binds background task names to their handlers and routes
// domain events onto the queue. It is shared by the API (in-process queue)
// and the worker (broker-backed queue) so both run the same handler set.
package tasks

import (
	"context"
	"encoding/json"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/referral"
	"github.com/classhour/backend/core/schedule"
	"github.com/classhour/backend/core/user"
	queuesvc "github.com/classhour/backend/services/queue"
)

type (
	Deps struct {
		Conf   *core.Config
		Logger core.Logger

		MailSvc     core.EmailService
		UserSvc     *user.Service
		BillingSvc  *billing.Service
		ReferralSvc *referral.Service
		ScheduleSvc *schedule.Service
	}

	EmailPayload struct {
		To      []mail.Address `json:"to"`
		Subject string         `json:"subject"`
		Body    string         `json:"body"`
	}

	ReferralCreditPayload struct {
		StudentID string `json:"student_id"`
	}

	CalendarSyncPayload struct {
		LessonID string `json:"lesson_id"`
	}

	// WindowPayload carries an inclusive [start, end] date window.
	WindowPayload struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
)

const windowDateLayout = "2006-01-02"

// NewRegistry builds the task registry with every background handler bound.
func NewRegistry(d Deps) *queuesvc.Registry {
	reg := queuesvc.NewRegistry()
	reg.Register(core.TaskSendEmail, d.sendEmail)
	reg.Register(core.TaskRunInvoices, d.runInvoices)
	reg.Register(core.TaskRunPayouts, d.runPayouts)
	reg.Register(core.TaskReferralCredit, d.referralCredit)
	reg.Register(core.TaskCalendarSync, d.calendarSync)
	return reg
}

// SubscribeEvents routes domain events onto the queue so their side effects
// run off the request path.
func SubscribeEvents(d Deps, dispatcher *core.EventDispatcher, queue core.TaskQueue) {
	dispatcher.Subscribe(hours.HourAccepted{}.EventName(), func(ctx context.Context, ev core.Event) error {
		accepted, ok := ev.(hours.HourAccepted)
		if !ok {
			return nil
		}
		payload := ReferralCreditPayload{StudentID: accepted.Record.StudentID}
		return queue.Enqueue(ctx, core.TaskReferralCredit, payload)
	})

	dispatcher.Subscribe(hours.HourDisputed{}.EventName(), func(ctx context.Context, ev core.Event) error {
		disputed, ok := ev.(hours.HourDisputed)
		if !ok {
			return nil
		}
		tutor, err := d.UserSvc.GetByID(ctx, disputed.Record.TutorID)
		if err != nil {
			return errors.Wrap(err, "resolving tutor")
		}
		payload := EmailPayload{
			To:      []mail.Address{{Name: tutor.Name, Address: tutor.Email}},
			Subject: "A logged session has been disputed",
			Body: "Your logged session of " + disputed.Record.Date.Format(windowDateLayout) +
				" has been disputed:\n\n" + disputed.Dispute.Reason +
				"\n\nPlease reply to the dispute from your dashboard.",
		}
		return queue.Enqueue(ctx, core.TaskSendEmail, payload)
	})
}

// Handlers

func (d Deps) sendEmail(ctx context.Context, payload []byte) error {
	var p EmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Wrap(err, "unmarshaling email payload")
	}
	d.MailSvc.SendMessages(&core.EmailMessage{
		To:      p.To,
		Subject: p.Subject,
		BodyStr: p.Body,
	})
	return nil
}

func (d Deps) runInvoices(ctx context.Context, payload []byte) error {
	start, end, err := parseWindow(payload, d.Conf.TimeZone)
	if err != nil {
		return err
	}
	res, err := d.BillingSvc.RunInvoiceBatch(ctx, start, end)
	if err != nil {
		return errors.Wrap(err, "running invoice batch")
	}
	logBatchResult(d.Logger, "invoice batch", res)
	return nil
}

func (d Deps) runPayouts(ctx context.Context, payload []byte) error {
	start, end, err := parseWindow(payload, d.Conf.TimeZone)
	if err != nil {
		return err
	}
	res, err := d.BillingSvc.RunPayoutBatch(ctx, start, end)
	if err != nil {
		return errors.Wrap(err, "running payout batch")
	}
	logBatchResult(d.Logger, "payout batch", res)
	return nil
}

func (d Deps) referralCredit(ctx context.Context, payload []byte) error {
	var p ReferralCreditPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Wrap(err, "unmarshaling referral payload")
	}
	ev := hours.HourAccepted{Record: hours.HourRecord{StudentID: p.StudentID}}
	return d.ReferralSvc.HandleHourAccepted(ctx, ev)
}

func (d Deps) calendarSync(ctx context.Context, payload []byte) error {
	var p CalendarSyncPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Wrap(err, "unmarshaling calendar sync payload")
	}
	err := d.ScheduleSvc.SyncCalendar(ctx, p.LessonID)
	if core.IsNotFound(err) {
		// lesson deleted since; nothing to sync
		return nil
	}
	return err
}

func parseWindow(payload []byte, loc *time.Location) (start, end time.Time, err error) {
	var p WindowPayload
	if err = json.Unmarshal(payload, &p); err != nil {
		return start, end, errors.Wrap(err, "unmarshaling window payload")
	}
	if start, err = time.ParseInLocation(windowDateLayout, p.Start, loc); err != nil {
		return start, end, errors.Wrap(err, "parsing window start")
	}
	if end, err = time.ParseInLocation(windowDateLayout, p.End, loc); err != nil {
		return start, end, errors.Wrap(err, "parsing window end")
	}
	return start, end, nil
}

func logBatchResult(logger core.Logger, op string, res billing.BatchResult) {
	logger.Info(op,
		"succeeded", len(res.Succeeded),
		"skipped", len(res.Skipped),
		"failed", len(res.Errors),
	)
	for _, be := range res.Errors {
		logger.Warn(op+": "+be.PartyID+": "+be.Reason)
	}
}
