package hours

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

var (
	ErrNotFound  = core.NewNotFoundError("hour record not found")
	ErrDuplicate = core.NewConflictError("this session has already been logged")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CreateHourRecord returns ErrDuplicate when the
		// (tutor, student, date, start, end) tuple already exists; uniqueness
		// is enforced by the store's composite key, not an application check.
		CreateHourRecord(ctx context.Context, rec HourRecord) (HourRecord, error)
		GetHourRecord(ctx context.Context, id string) (HourRecord, error)
		UpdateHourRecord(ctx context.Context, rec HourRecord) (HourRecord, error)
		DeleteHourRecord(ctx context.Context, id string) error
		FilterHourRecords(ctx context.Context, filter QueryFilter) ([]HourRecord, error)
		// AcceptedHoursTotal sums accepted+resolved durations for a student.
		AcceptedHoursTotal(ctx context.Context, studentID string) (decimal.Decimal, error)

		CreateDispute(ctx context.Context, d Dispute) (Dispute, error)
		GetDispute(ctx context.Context, id string) (Dispute, error)
		UpdateDispute(ctx context.Context, d Dispute) (Dispute, error)
	}

	Service struct {
		repo  Repository
		users *user.Service
		conf  *core.Config
	}
)

func NewService(repo Repository, users *user.Service, conf *core.Config) *Service {
	return &Service{
		repo:  repo,
		users: users,
		conf:  conf,
	}
}

// Log validates and inserts a tutor-submitted session. Preconditions are
// checked in order, each with its own rejectable error; the current-week
// constraint guarantees eligibility for this path.
func (svc *Service) Log(ctx context.Context, tutorID string, nh NewHourRecord) (HourRecord, []core.Event, error) {
	student, err := svc.users.GetByID(ctx, nh.StudentID)
	if err != nil {
		return HourRecord{}, nil, err
	}
	if !student.IsStudent() || student.ParentID == "" {
		return HourRecord{}, nil, core.NewValidationError(
			errors.New("student has no registered parent"),
			core.FieldError{Field: "student_id", Error: "student has no registered parent"})
	}

	rec, err := svc.composeRecord(tutorID, student, nh)
	if err != nil {
		return HourRecord{}, nil, err
	}

	now := nowFunc().In(svc.conf.TimeZone)
	if rec.StartsAt.After(now) || rec.EndsAt.After(now) {
		return HourRecord{}, nil, core.NewValidationError(errors.New("session cannot be in the future"))
	}

	weekStart, weekEnd := core.WeekOf(now)
	if rec.Date.Before(weekStart) || rec.Date.After(weekEnd) {
		return HourRecord{}, nil, core.NewValidationError(errors.New("sessions can only be logged for the current week"))
	}

	if err = svc.checkDuration(rec.Duration); err != nil {
		return HourRecord{}, nil, err
	}

	rec.Eligibility = EligibilityEligible
	created, err := svc.repo.CreateHourRecord(ctx, rec)
	if err != nil {
		return HourRecord{}, nil, err
	}
	return created, []core.Event{HourAccepted{Record: created}}, nil
}

// BulkLog is the administrative batch-add path: it bypasses the current-week
// restriction, tags out-of-week sessions late, and accumulates per-entry
// failures instead of aborting the batch.
func (svc *Service) BulkLog(ctx context.Context, entries []BulkHourRecord) ([]HourRecord, []core.Event, []BulkError) {
	var (
		created  []HourRecord
		events   []core.Event
		bulkErrs []BulkError
	)

	now := nowFunc().In(svc.conf.TimeZone)
	weekStart, weekEnd := core.WeekOf(now)

	for i, entry := range entries {
		student, err := svc.users.GetByID(ctx, entry.StudentID)
		if err != nil || !student.IsStudent() || student.ParentID == "" {
			bulkErrs = append(bulkErrs, BulkError{Index: i, Reason: "student has no registered parent"})
			continue
		}

		rec, err := svc.composeRecord(entry.TutorID, student, entry.NewHourRecord)
		if err != nil {
			bulkErrs = append(bulkErrs, BulkError{Index: i, Reason: err.Error()})
			continue
		}
		if rec.StartsAt.After(now) || rec.EndsAt.After(now) {
			bulkErrs = append(bulkErrs, BulkError{Index: i, Reason: "session cannot be in the future"})
			continue
		}
		if err = svc.checkDuration(rec.Duration); err != nil {
			bulkErrs = append(bulkErrs, BulkError{Index: i, Reason: err.Error()})
			continue
		}

		// eligibility computed post hoc: late when backfilled outside the
		// currently open week
		rec.Eligibility = EligibilityLate
		if !rec.Date.Before(weekStart) && !rec.Date.After(weekEnd) {
			rec.Eligibility = EligibilityEligible
		}

		rec, err = svc.repo.CreateHourRecord(ctx, rec)
		if err != nil {
			bulkErrs = append(bulkErrs, BulkError{Index: i, Reason: err.Error()})
			continue
		}
		created = append(created, rec)
		events = append(events, HourAccepted{Record: rec})
	}
	return created, events, bulkErrs
}

func (svc *Service) Get(ctx context.Context, id string) (HourRecord, error) {
	return svc.repo.GetHourRecord(ctx, id)
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]HourRecord, error) {
	return svc.repo.FilterHourRecords(ctx, filter)
}

// Update applies tutor edits to an un-invoiced record, recording prior values
// in the edit history.
func (svc *Service) Update(ctx context.Context, tutor user.User, id string, uh UpdateHourRecord) (HourRecord, error) {
	rec, err := svc.repo.GetHourRecord(ctx, id)
	if err != nil {
		return HourRecord{}, err
	}
	if rec.TutorID != tutor.ID && !tutor.IsAdmin() {
		return HourRecord{}, core.NewValidationError(errors.New("only the logging tutor may edit this record"))
	}
	if rec.Invoiced() {
		return HourRecord{}, core.NewConflictError("record has already been invoiced")
	}

	now := nowFunc().UTC()
	edit := func(field, from, to string) {
		if from != to {
			rec.Edits = append(rec.Edits, Edit{Field: field, From: from, To: to, At: now})
		}
	}

	if uh.Date != "" || uh.StartTime != "" || uh.EndTime != "" {
		date := rec.Date.Format(dateLayout)
		start := rec.StartsAt.Format(timeLayout)
		end := rec.EndsAt.Format(timeLayout)
		if uh.Date != "" {
			date = uh.Date
		}
		if uh.StartTime != "" {
			start = uh.StartTime
		}
		if uh.EndTime != "" {
			end = uh.EndTime
		}
		newDate, startsAt, endsAt, duration, err := svc.parseSession(date, start, end)
		if err != nil {
			return HourRecord{}, err
		}
		if err = svc.checkDuration(duration); err != nil {
			return HourRecord{}, err
		}
		edit("date", rec.Date.Format(dateLayout), date)
		edit("start_time", rec.StartsAt.Format(timeLayout), start)
		edit("end_time", rec.EndsAt.Format(timeLayout), end)
		rec.Date, rec.StartsAt, rec.EndsAt, rec.Duration = newDate, startsAt, endsAt, duration
	}
	if uh.Channel != "" {
		edit("channel", string(rec.Channel), uh.Channel)
		rec.Channel = Channel(uh.Channel)
	}
	if uh.Subject != "" {
		edit("subject", rec.Subject, uh.Subject)
		rec.Subject = uh.Subject
	}
	if uh.Notes != "" {
		edit("notes", rec.Notes, uh.Notes)
		rec.Notes = uh.Notes
	}
	rec.UpdatedAt = now

	return svc.repo.UpdateHourRecord(ctx, rec)
}

// Delete removes a record; only the owning tutor may do so, and only before
// it has been invoiced.
func (svc *Service) Delete(ctx context.Context, tutor user.User, id string) error {
	rec, err := svc.repo.GetHourRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.TutorID != tutor.ID {
		return core.NewValidationError(errors.New("only the logging tutor may delete this record"))
	}
	if rec.Invoiced() {
		return core.NewConflictError("record has already been invoiced")
	}
	return svc.repo.DeleteHourRecord(ctx, id)
}

func (svc *Service) AcceptedHoursTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	return svc.repo.AcceptedHoursTotal(ctx, studentID)
}

func (svc *Service) composeRecord(tutorID string, student user.User, nh NewHourRecord) (HourRecord, error) {
	date, startsAt, endsAt, duration, err := svc.parseSession(nh.Date, nh.StartTime, nh.EndTime)
	if err != nil {
		return HourRecord{}, err
	}

	channel := ChannelUnset
	if nh.Channel != "" {
		channel = Channel(nh.Channel)
	}

	now := time.Now().UTC()
	return HourRecord{
		StudentID:     student.ID,
		ParentID:      student.ParentID,
		TutorID:       tutorID,
		Date:          date,
		StartsAt:      startsAt,
		EndsAt:        endsAt,
		Duration:      duration,
		Channel:       channel,
		Subject:       nh.Subject,
		Notes:         nh.Notes,
		Status:        StatusAccepted,
		InvoiceStatus: InvoicePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (svc *Service) parseSession(dateStr, startStr, endStr string) (date, startsAt, endsAt time.Time, duration decimal.Decimal, err error) {
	loc := svc.conf.TimeZone

	date, err = time.ParseInLocation(dateLayout, dateStr, loc)
	if err != nil {
		err = core.NewValidationError(errors.New("invalid date"), core.FieldError{Field: "date", Error: "invalid date"})
		return
	}
	start, terr := time.Parse(timeLayout, startStr)
	if terr != nil {
		err = core.NewValidationError(errors.New("invalid start time"), core.FieldError{Field: "start_time", Error: "invalid time"})
		return
	}
	end, terr := time.Parse(timeLayout, endStr)
	if terr != nil {
		err = core.NewValidationError(errors.New("invalid end time"), core.FieldError{Field: "end_time", Error: "invalid time"})
		return
	}

	startsAt = time.Date(date.Year(), date.Month(), date.Day(), start.Hour(), start.Minute(), 0, 0, loc)
	endsAt = time.Date(date.Year(), date.Month(), date.Day(), end.Hour(), end.Minute(), 0, 0, loc)
	if !endsAt.After(startsAt) {
		err = core.NewValidationError(errors.New("session end must be after its start"))
		return
	}

	minutes := int64(endsAt.Sub(startsAt) / time.Minute)
	duration = decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60))
	return
}

func (svc *Service) checkDuration(duration decimal.Decimal) error {
	ceiling := decimal.NewFromInt(int64(svc.conf.Billing.MaxSessionHours))
	if !duration.IsPositive() || duration.GreaterThan(ceiling) {
		msg := fmt.Sprintf("session duration must be between 0 and %d hours", svc.conf.Billing.MaxSessionHours)
		return core.NewValidationError(errors.New(msg), core.FieldError{Field: "end_time", Error: msg})
	}
	return nil
}
