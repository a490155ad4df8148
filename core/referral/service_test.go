package referral_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/referral"
	"github.com/classhour/backend/core/user"
	logsvc "github.com/classhour/backend/services/logger"
	paymentsvc "github.com/classhour/backend/services/payment"
	inmemdb "github.com/classhour/backend/storage/database/inmem"
	testutil "github.com/classhour/backend/tests"
)

type env struct {
	svc      *referral.Service
	pay      *paymentsvc.DummyService
	usrRepo  user.Repository
	hourRepo hours.Repository
}

func setup(t *testing.T) env {
	t.Helper()
	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	hourRepo := inmemdb.NewHourRepository(db)
	conf := testutil.NewConfig()
	usrSvc := user.NewService(usrRepo, nil, conf)
	pay := paymentsvc.NewDummyService()
	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	svc := referral.NewService(inmemdb.NewReferralRepository(db), hourRepo, usrSvc, pay, conf, logger)
	return env{svc: svc, pay: pay, usrRepo: usrRepo, hourRepo: hourRepo}
}

// acceptHours puts duration accepted hours on the student's ledger and returns
// the event the hour service would have emitted.
func acceptHours(t *testing.T, e env, tutorID string, student user.User, duration string, offset int) hours.HourAccepted {
	t.Helper()

	d := testutil.MustDecimal(t, duration)
	day := time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)
	startsAt := day.Add(time.Duration(8+offset) * time.Hour)
	rec := hours.HourRecord{
		StudentID:     student.ID,
		ParentID:      student.ParentID,
		TutorID:       tutorID,
		Date:          day,
		StartsAt:      startsAt,
		EndsAt:        startsAt.Add(time.Duration(d.InexactFloat64() * float64(time.Hour))),
		Duration:      d,
		Channel:       hours.ChannelOnline,
		Status:        hours.StatusAccepted,
		Eligibility:   hours.EligibilityEligible,
		InvoiceStatus: hours.InvoicePending,
	}
	rec, err := e.hourRepo.CreateHourRecord(context.Background(), rec)
	require.NoError(t, err)
	return hours.HourAccepted{Record: rec}
}

func TestService_CreateCode(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	parent, _ := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")

	ref, err := e.svc.CreateCode(ctx, parent)
	require.NoError(t, err)

	assert.Equal(t, parent.ID, ref.ReferrerID)
	assert.Len(t, ref.Code, 8)
	assert.Equal(t, referral.StatusCreated, ref.Status)
	assert.True(t, ref.RewardAmount.Equal(testutil.MustDecimal(t, "25.00")))

	refs, err := e.svc.ForReferrer(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestService_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("binds the student to the code", func(t *testing.T) {
		e := setup(t)
		referrer, _ := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		_, student := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")

		ref, err := e.svc.CreateCode(ctx, referrer)
		require.NoError(t, err)

		claimed, err := e.svc.Claim(ctx, ref.Code, student)
		require.NoError(t, err)
		assert.Equal(t, student.ID, claimed.ReferredID)
		assert.Equal(t, referral.StatusRewardPending, claimed.Status)
	})

	t.Run("only students may claim", func(t *testing.T) {
		e := setup(t)
		referrer, _ := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		ref, err := e.svc.CreateCode(ctx, referrer)
		require.NoError(t, err)

		_, err = e.svc.Claim(ctx, ref.Code, referrer)
		assert.EqualError(t, err, "only students can claim a referral code")
	})

	t.Run("a student may be referred once", func(t *testing.T) {
		e := setup(t)
		referrer, _ := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		_, student := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")

		first, err := e.svc.CreateCode(ctx, referrer)
		require.NoError(t, err)
		second, err := e.svc.CreateCode(ctx, referrer)
		require.NoError(t, err)

		_, err = e.svc.Claim(ctx, first.Code, student)
		require.NoError(t, err)
		_, err = e.svc.Claim(ctx, second.Code, student)
		assert.EqualError(t, err, "student is already referred")
	})

	t.Run("a code may be claimed once", func(t *testing.T) {
		e := setup(t)
		referrer, _ := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		_, student := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")
		_, sibling := testutil.CreateFamily(t, e.usrRepo, "c", "40.00", "40.00")

		ref, err := e.svc.CreateCode(ctx, referrer)
		require.NoError(t, err)
		_, err = e.svc.Claim(ctx, ref.Code, student)
		require.NoError(t, err)

		_, err = e.svc.Claim(ctx, ref.Code, sibling)
		assert.EqualError(t, err, "referral code has already been claimed")
	})

	t.Run("unknown code", func(t *testing.T) {
		e := setup(t)
		_, student := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")

		_, err := e.svc.Claim(ctx, "deadbeef", student)
		assert.ErrorIs(t, err, referral.ErrNotFound)
	})
}

func TestService_HandleHourAccepted(t *testing.T) {
	ctx := context.Background()

	// threshold is 4 hours in the test config
	claim := func(t *testing.T, e env) (referrer, student user.User, ref referral.Referral) {
		t.Helper()
		referrer, _ = testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
		_, student = testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")

		ref, err := e.svc.CreateCode(ctx, referrer)
		require.NoError(t, err)
		ref, err = e.svc.Claim(ctx, ref.Code, student)
		require.NoError(t, err)
		return referrer, student, ref
	}

	t.Run("credits the referrer when the threshold is crossed", func(t *testing.T) {
		e := setup(t)
		referrer, student, ref := claim(t, e)
		tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")

		ev := acceptHours(t, e, tutor.ID, student, "3", 0)
		require.NoError(t, e.svc.HandleHourAccepted(ctx, ev))
		assert.Empty(t, e.pay.Credits, "below threshold: no credit")

		ev = acceptHours(t, e, tutor.ID, student, "1.5", 4)
		require.NoError(t, e.svc.HandleHourAccepted(ctx, ev))

		require.Len(t, e.pay.Credits, 1)
		credit := e.pay.Credits[0]
		assert.Equal(t, int64(2500), credit.AmountMinor)
		assert.Equal(t, "referral-credit:"+ref.ID, credit.IdempotencyKey)

		got, err := e.svc.ForReferrer(ctx, referrer.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, referral.StatusRewardApplied, got[0].Status)
		assert.True(t, got[0].RewardApplied)

		// the referrer's processor customer is created and persisted
		referrer, err = e.usrRepo.GetUserByID(ctx, referrer.ID)
		require.NoError(t, err)
		assert.Equal(t, credit.CustomerID, referrer.CustomerID)
	})

	t.Run("a re-delivered event does not credit twice", func(t *testing.T) {
		e := setup(t)
		_, student, _ := claim(t, e)
		tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")

		ev := acceptHours(t, e, tutor.ID, student, "5", 0)
		require.NoError(t, e.svc.HandleHourAccepted(ctx, ev))
		require.NoError(t, e.svc.HandleHourAccepted(ctx, ev))

		assert.Len(t, e.pay.Credits, 1)
	})

	t.Run("a student without a referral is a no-op", func(t *testing.T) {
		e := setup(t)
		_, student := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")
		tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")

		ev := acceptHours(t, e, tutor.ID, student, "5", 0)
		require.NoError(t, e.svc.HandleHourAccepted(ctx, ev))
		assert.Empty(t, e.pay.Credits)
	})
}
