package schedule_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/schedule"
	"github.com/classhour/backend/core/user"
	calendarsvc "github.com/classhour/backend/services/calendar"
	logsvc "github.com/classhour/backend/services/logger"
	inmemdb "github.com/classhour/backend/storage/database/inmem"
	testutil "github.com/classhour/backend/tests"
)

type env struct {
	svc     *schedule.Service
	cal     *calendarsvc.DummyService
	usrRepo user.Repository
}

func setup(t *testing.T) env {
	t.Helper()
	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	conf := testutil.NewConfig()
	usrSvc := user.NewService(usrRepo, nil, conf)
	cal := calendarsvc.NewDummyService()
	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	svc := schedule.NewService(inmemdb.NewScheduleRepository(db), usrSvc, cal, conf, logger)
	return env{svc: svc, cal: cal, usrRepo: usrRepo}
}

// connectTutor creates a tutor with a live calendar token and returns the
// reloaded profile.
func connectTutor(t *testing.T, e env, tag string) user.User {
	t.Helper()
	tutor := testutil.CreateTutor(t, e.usrRepo, tag, "20.00", "25.00")
	require.NoError(t, e.svc.ConnectCalendar(context.Background(), tutor, "code-"+tag))

	tutor, err := e.usrRepo.GetUserByID(context.Background(), tutor.ID)
	require.NoError(t, err)
	return tutor
}

func lessonSlot() (time.Time, time.Time) {
	startsAt := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	return startsAt, startsAt.Add(time.Hour)
}

func TestService_ConnectCalendar(t *testing.T) {
	e := setup(t)
	tutor := connectTutor(t, e, "t")

	assert.True(t, tutor.HasCalendar())
	assert.Equal(t, "access-code-t", tutor.CalendarToken.AccessToken)
	assert.Equal(t, "refresh-code-t", tutor.CalendarToken.RefreshToken)
}

func TestService_Schedule(t *testing.T) {
	ctx := context.Background()

	t.Run("books and mirrors with attendees", func(t *testing.T) {
		e := setup(t)
		tutor := connectTutor(t, e, "t")
		parent, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID,
			Subject:   "Algebra",
			StartsAt:  startsAt,
			EndsAt:    endsAt,
		})
		require.NoError(t, err)
		require.NotEmpty(t, lesson.CalendarEventID)

		ev, ok := e.cal.Event(lesson.CalendarEventID)
		require.True(t, ok)
		assert.Equal(t, "Tutoring: Algebra", ev.Summary)
		assert.ElementsMatch(t, []string{student.Email, parent.Email}, ev.Attendees)
		assert.True(t, ev.Start.Equal(startsAt))
	})

	t.Run("only students get lessons", func(t *testing.T) {
		e := setup(t)
		tutor := connectTutor(t, e, "t")
		parent, _ := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		_, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: parent.ID, StartsAt: startsAt, EndsAt: endsAt,
		})
		assert.EqualError(t, err, "lessons can only be booked for students")
	})

	t.Run("a calendar failure does not block the booking", func(t *testing.T) {
		e := setup(t)
		tutor := connectTutor(t, e, "t")
		_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		e.cal.FailNext = true
		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID, Subject: "Algebra", StartsAt: startsAt, EndsAt: endsAt,
		})
		require.NoError(t, err)
		assert.Empty(t, lesson.CalendarEventID)
	})

	t.Run("an unconnected tutor books without a mirror", func(t *testing.T) {
		e := setup(t)
		tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")
		_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID, StartsAt: startsAt, EndsAt: endsAt,
		})
		require.NoError(t, err)
		assert.Empty(t, lesson.CalendarEventID)
	})

	t.Run("an expired token is refreshed and persisted", func(t *testing.T) {
		e := setup(t)
		tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")
		_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		stale := core.OAuthToken{
			AccessToken:  "stale",
			RefreshToken: "refresh-stale",
			Expiry:       time.Now().Add(-time.Hour),
		}
		require.NoError(t, e.usrRepo.SetCalendarToken(ctx, tutor.ID, stale))
		tutor, err := e.usrRepo.GetUserByID(ctx, tutor.ID)
		require.NoError(t, err)

		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID, StartsAt: startsAt, EndsAt: endsAt,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, lesson.CalendarEventID)

		tutor, err = e.usrRepo.GetUserByID(ctx, tutor.ID)
		require.NoError(t, err)
		assert.Equal(t, "refreshed-stale", tutor.CalendarToken.AccessToken)
	})
}

func TestService_Reschedule(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	tutor := connectTutor(t, e, "t")
	_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	startsAt, endsAt := lessonSlot()

	lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
		StudentID: student.ID, Subject: "Algebra", StartsAt: startsAt, EndsAt: endsAt,
	})
	require.NoError(t, err)

	other := testutil.CreateTutor(t, e.usrRepo, "other", "30.00", "30.00")
	_, err = e.svc.Reschedule(ctx, other, lesson.ID, startsAt, endsAt)
	assert.EqualError(t, err, "only the booking tutor may reschedule")

	_, err = e.svc.Reschedule(ctx, tutor, lesson.ID, endsAt, startsAt)
	assert.EqualError(t, err, "lesson end must be after its start")

	newStart := startsAt.Add(24 * time.Hour)
	newEnd := newStart.Add(time.Hour)
	moved, err := e.svc.Reschedule(ctx, tutor, lesson.ID, newStart, newEnd)
	require.NoError(t, err)
	assert.True(t, moved.StartsAt.Equal(newStart))

	// the mirror follows
	ev, ok := e.cal.Event(lesson.CalendarEventID)
	require.True(t, ok)
	assert.True(t, ev.Start.Equal(newStart))
	assert.True(t, ev.End.Equal(newEnd))
}

func TestService_RSVP(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	tutor := connectTutor(t, e, "t")
	_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	_, other := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")
	startsAt, endsAt := lessonSlot()

	lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
		StudentID: student.ID, Subject: "Algebra", StartsAt: startsAt, EndsAt: endsAt,
	})
	require.NoError(t, err)

	err = e.svc.RSVP(ctx, other, lesson.ID, core.RSVPAccepted)
	assert.EqualError(t, err, "only the booked student may answer")

	require.NoError(t, e.svc.RSVP(ctx, student, lesson.ID, core.RSVPDeclined))
	st, ok := e.cal.RSVPFor(lesson.CalendarEventID, student.Email)
	require.True(t, ok)
	assert.Equal(t, core.RSVPDeclined, st)
}

func TestService_SyncCalendar(t *testing.T) {
	ctx := context.Background()

	t.Run("retries a failed mirror", func(t *testing.T) {
		e := setup(t)
		tutor := connectTutor(t, e, "t")
		parent, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		e.cal.FailNext = true
		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID, Subject: "Algebra", StartsAt: startsAt, EndsAt: endsAt,
		})
		require.NoError(t, err)
		require.Empty(t, lesson.CalendarEventID)

		require.NoError(t, e.svc.SyncCalendar(ctx, lesson.ID))

		lessons, err := e.svc.ListByTutor(ctx, tutor.ID, startsAt.Add(-time.Hour), endsAt.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, lessons, 1)
		require.NotEmpty(t, lessons[0].CalendarEventID)

		ev, ok := e.cal.Event(lessons[0].CalendarEventID)
		require.True(t, ok)
		assert.Equal(t, "Tutoring: Algebra", ev.Summary)
		assert.ElementsMatch(t, []string{student.Email, parent.Email}, ev.Attendees)
	})

	t.Run("a mirrored lesson is left alone", func(t *testing.T) {
		e := setup(t)
		tutor := connectTutor(t, e, "t")
		_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID, StartsAt: startsAt, EndsAt: endsAt,
		})
		require.NoError(t, err)
		require.NotEmpty(t, lesson.CalendarEventID)

		require.NoError(t, e.svc.SyncCalendar(ctx, lesson.ID))

		lessons, err := e.svc.ListByTutor(ctx, tutor.ID, startsAt.Add(-time.Hour), endsAt.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, lessons, 1)
		assert.Equal(t, lesson.CalendarEventID, lessons[0].CalendarEventID)
	})

	t.Run("an unconnected tutor is a no-op", func(t *testing.T) {
		e := setup(t)
		tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")
		_, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		startsAt, endsAt := lessonSlot()

		lesson, err := e.svc.Schedule(ctx, tutor, schedule.NewLesson{
			StudentID: student.ID, StartsAt: startsAt, EndsAt: endsAt,
		})
		require.NoError(t, err)

		require.NoError(t, e.svc.SyncCalendar(ctx, lesson.ID))
	})

	t.Run("an unknown lesson reports not found", func(t *testing.T) {
		e := setup(t)
		err := e.svc.SyncCalendar(ctx, "nope")
		assert.True(t, core.IsNotFound(err))
	})
}
