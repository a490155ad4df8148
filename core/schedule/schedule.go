package schedule

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

var (
	ErrNotFound            = core.NewNotFoundError("lesson not found")
	ErrCalendarUnconnected = errors.New("tutor has not connected a calendar")
)

// Lesson is a scheduled (future) tutoring slot mirrored to the tutor's
// external calendar. Logged hours are recorded separately, after the fact.
type Lesson struct {
	ID              string    `json:"id"`
	TutorID         string    `json:"tutor_id"`
	StudentID       string    `json:"student_id"`
	Subject         string    `json:"subject"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	CalendarEventID string    `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

type NewLesson struct {
	StudentID string    `json:"student_id" validate:"required"`
	Subject   string    `json:"subject"`
	StartsAt  time.Time `json:"starts_at" validate:"required"`
	EndsAt    time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.StudentID = core.CleanString(nl.StudentID)
	nl.Subject = core.CleanString(nl.Subject)
	return validate.Struct(nl)
}

type (
	Repository interface {
		CreateLesson(ctx context.Context, l Lesson) (Lesson, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson) (Lesson, error)
		ListLessonsByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]Lesson, error)
	}

	Service struct {
		repo   Repository
		users  *user.Service
		cal    core.CalendarService
		conf   *core.Config
		logger core.Logger
	}
)

func NewService(repo Repository, users *user.Service, cal core.CalendarService, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		cal:    cal,
		conf:   conf,
		logger: logger,
	}
}

// ConnectCalendar exchanges the OAuth authorization code and persists the
// token on the tutor profile.
func (svc *Service) ConnectCalendar(ctx context.Context, tutor user.User, code string) error {
	tok, err := svc.cal.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "exchanging authorization code")
	}
	return svc.users.SetCalendarToken(ctx, tutor.ID, tok)
}

// Schedule books a lesson and mirrors it to the tutor's calendar with the
// student (and their parent) as attendees.
func (svc *Service) Schedule(ctx context.Context, tutor user.User, nl NewLesson) (Lesson, error) {
	student, err := svc.users.GetByID(ctx, nl.StudentID)
	if err != nil {
		return Lesson{}, err
	}
	if !student.IsStudent() {
		return Lesson{}, core.NewValidationError(errors.New("lessons can only be booked for students"))
	}

	now := time.Now().UTC()
	lesson := Lesson{
		TutorID:   tutor.ID,
		StudentID: student.ID,
		Subject:   nl.Subject,
		StartsAt:  nl.StartsAt,
		EndsAt:    nl.EndsAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tok, err := svc.freshToken(ctx, tutor)
	if err == nil {
		attendees := []string{student.Email}
		if parent, perr := svc.users.GetByID(ctx, student.ParentID); perr == nil {
			attendees = append(attendees, parent.Email)
		}
		eventID, cerr := svc.cal.CreateEvent(ctx, tok, core.CalendarEvent{
			Summary:     "Tutoring: " + nl.Subject,
			Description: "ClassHour lesson",
			Start:       nl.StartsAt,
			End:         nl.EndsAt,
			Attendees:   attendees,
		})
		if cerr != nil {
			svc.logger.Warn("creating calendar event", cerr)
		} else {
			lesson.CalendarEventID = eventID
		}
	} else if !errors.Is(err, ErrCalendarUnconnected) {
		svc.logger.Warn("refreshing calendar token", err)
	}

	return svc.repo.CreateLesson(ctx, lesson)
}

// Reschedule moves a lesson and patches its calendar event.
func (svc *Service) Reschedule(ctx context.Context, tutor user.User, id string, startsAt, endsAt time.Time) (Lesson, error) {
	lesson, err := svc.repo.GetLesson(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	if lesson.TutorID != tutor.ID {
		return Lesson{}, core.NewValidationError(errors.New("only the booking tutor may reschedule"))
	}
	if !endsAt.After(startsAt) {
		return Lesson{}, core.NewValidationError(errors.New("lesson end must be after its start"))
	}

	lesson.StartsAt = startsAt
	lesson.EndsAt = endsAt
	lesson.UpdatedAt = time.Now().UTC()

	if lesson.CalendarEventID != "" {
		if tok, terr := svc.freshToken(ctx, tutor); terr == nil {
			patchErr := svc.cal.PatchEvent(ctx, tok, core.CalendarEvent{
				ID:    lesson.CalendarEventID,
				Start: startsAt,
				End:   endsAt,
			})
			if patchErr != nil {
				svc.logger.Warn("patching calendar event", patchErr)
			}
		}
	}
	return svc.repo.UpdateLesson(ctx, lesson)
}

// RSVP records the student's attendance answer on the calendar event.
func (svc *Service) RSVP(ctx context.Context, student user.User, id string, status core.RSVPStatus) error {
	lesson, err := svc.repo.GetLesson(ctx, id)
	if err != nil {
		return err
	}
	if lesson.StudentID != student.ID {
		return core.NewValidationError(errors.New("only the booked student may answer"))
	}
	if lesson.CalendarEventID == "" {
		return nil
	}

	tutor, err := svc.users.GetByID(ctx, lesson.TutorID)
	if err != nil {
		return err
	}
	tok, err := svc.freshToken(ctx, tutor)
	if err != nil {
		return err
	}
	return svc.cal.UpdateRSVP(ctx, tok, lesson.CalendarEventID, student.Email, status)
}

// SyncCalendar retries the calendar mirror for a lesson whose event creation
// failed at booking time. A lesson that already has an event, or whose tutor
// never connected a calendar, is left alone.
func (svc *Service) SyncCalendar(ctx context.Context, lessonID string) error {
	lesson, err := svc.repo.GetLesson(ctx, lessonID)
	if err != nil {
		return err
	}
	if lesson.CalendarEventID != "" {
		return nil
	}

	tutor, err := svc.users.GetByID(ctx, lesson.TutorID)
	if err != nil {
		return err
	}
	tok, err := svc.freshToken(ctx, tutor)
	if err != nil {
		if errors.Is(err, ErrCalendarUnconnected) {
			return nil
		}
		return err
	}

	student, err := svc.users.GetByID(ctx, lesson.StudentID)
	if err != nil {
		return err
	}
	attendees := []string{student.Email}
	if parent, perr := svc.users.GetByID(ctx, student.ParentID); perr == nil {
		attendees = append(attendees, parent.Email)
	}

	eventID, err := svc.cal.CreateEvent(ctx, tok, core.CalendarEvent{
		Summary:     "Tutoring: " + lesson.Subject,
		Description: "ClassHour lesson",
		Start:       lesson.StartsAt,
		End:         lesson.EndsAt,
		Attendees:   attendees,
	})
	if err != nil {
		return errors.Wrap(err, "creating calendar event")
	}

	lesson.CalendarEventID = eventID
	lesson.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateLesson(ctx, lesson)
	return err
}

func (svc *Service) ListByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]Lesson, error) {
	return svc.repo.ListLessonsByTutor(ctx, tutorID, from, to)
}

// freshToken returns a valid calendar token for the tutor, refreshing and
// persisting it when expired.
func (svc *Service) freshToken(ctx context.Context, tutor user.User) (core.OAuthToken, error) {
	if !tutor.HasCalendar() {
		return core.OAuthToken{}, ErrCalendarUnconnected
	}
	tok := tutor.CalendarToken
	if !tok.Expired(time.Now()) {
		return tok, nil
	}
	refreshed, err := svc.cal.Refresh(ctx, tok)
	if err != nil {
		return core.OAuthToken{}, errors.Wrap(err, "refreshing token")
	}
	if err = svc.users.SetCalendarToken(ctx, tutor.ID, refreshed); err != nil {
		return core.OAuthToken{}, errors.Wrap(err, "persisting refreshed token")
	}
	return refreshed, nil
}
