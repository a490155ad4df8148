package billing_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/user"
	logsvc "github.com/classhour/backend/services/logger"
	paymentsvc "github.com/classhour/backend/services/payment"
	inmemdb "github.com/classhour/backend/storage/database/inmem"
	testutil "github.com/classhour/backend/tests"
)

var (
	weekStart = time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)
	weekEnd   = time.Date(2024, time.July, 21, 0, 0, 0, 0, time.UTC)
)

type env struct {
	svc      *billing.Service
	pay      *paymentsvc.DummyService
	usrRepo  user.Repository
	hourRepo hours.Repository
}

func setup(t *testing.T) env {
	t.Helper()
	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	conf := testutil.NewConfig()
	usrSvc := user.NewService(usrRepo, nil, conf)
	pay := paymentsvc.NewDummyService()
	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	svc := billing.NewService(inmemdb.NewBillingRepository(db), usrSvc, pay, conf, logger)
	return env{
		svc:      svc,
		pay:      pay,
		usrRepo:  usrRepo,
		hourRepo: inmemdb.NewHourRepository(db),
	}
}

// seedHours inserts an accepted, billable record. Start times are staggered by
// the offset to keep the session tuple unique.
func seedHours(t *testing.T, e env, tutorID, parentID, studentID string, duration string, channel hours.Channel, offset int) hours.HourRecord {
	t.Helper()

	d := testutil.MustDecimal(t, duration)
	startsAt := weekStart.Add(time.Duration(8+offset) * time.Hour)
	rec := hours.HourRecord{
		StudentID:     studentID,
		ParentID:      parentID,
		TutorID:       tutorID,
		Date:          weekStart,
		StartsAt:      startsAt,
		EndsAt:        startsAt.Add(time.Duration(d.InexactFloat64() * float64(time.Hour))),
		Duration:      d,
		Channel:       channel,
		Status:        hours.StatusAccepted,
		Eligibility:   hours.EligibilityEligible,
		InvoiceStatus: hours.InvoicePending,
	}
	rec, err := e.hourRepo.CreateHourRecord(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func TestService_AggregateForInvoicing(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	parentA, studentA := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	parentB, studentB := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")
	// zero rates: never invoiced
	parentC, studentC := testutil.CreateFamily(t, e.usrRepo, "c", "0", "0")
	tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")

	ra1 := seedHours(t, e, tutor.ID, parentA.ID, studentA.ID, "2", hours.ChannelOnline, 0)
	ra2 := seedHours(t, e, tutor.ID, parentA.ID, studentA.ID, "1", hours.ChannelInPerson, 3)
	seedHours(t, e, tutor.ID, parentB.ID, studentB.ID, "1.5", hours.ChannelOnline, 0)
	seedHours(t, e, tutor.ID, parentC.ID, studentC.ID, "1", hours.ChannelOnline, 0)

	totals, err := e.svc.AggregateForInvoicing(ctx, weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, totals, 2, "zero-total parent must be excluded")

	byParty := make(map[string]billing.PartyTotal, len(totals))
	for _, pt := range totals {
		byParty[pt.PartyID] = pt
	}

	a := byParty[parentA.ID]
	// 2 x 35.00 + 1 x 60.00, exact
	assert.True(t, a.Total.Equal(testutil.MustDecimal(t, "130.00")), "total = %s", a.Total)
	assert.True(t, a.OnlineHours.Equal(decimal.NewFromInt(2)))
	assert.True(t, a.InPersonHours.Equal(decimal.NewFromInt(1)))
	assert.ElementsMatch(t, []string{ra1.ID, ra2.ID}, a.RecordIDs)

	b := byParty[parentB.ID]
	assert.True(t, b.Total.Equal(testutil.MustDecimal(t, "60.00")), "total = %s", b.Total)
}

func TestService_AggregateForPayout(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	parent, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	tutor := testutil.CreateTutor(t, e.usrRepo, "t", "21.50", "25.00")

	seedHours(t, e, tutor.ID, parent.ID, student.ID, "2", hours.ChannelOnline, 0)

	// a disputed session is not payable
	disputed := seedHours(t, e, tutor.ID, parent.ID, student.ID, "1", hours.ChannelOnline, 3)
	disputed.Status = hours.StatusDisputed
	_, err := e.hourRepo.UpdateHourRecord(ctx, disputed)
	require.NoError(t, err)

	totals, err := e.svc.AggregateForPayout(ctx, weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, totals, 1)

	assert.Equal(t, tutor.ID, totals[0].PartyID)
	// tutor rates, not the parent's: 2 x 21.50
	assert.True(t, totals[0].Total.Equal(testutil.MustDecimal(t, "43.00")), "total = %s", totals[0].Total)
}

func TestService_CommitAggregates(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	parent, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")
	seedHours(t, e, tutor.ID, parent.ID, student.ID, "2", hours.ChannelOnline, 0)

	res, err := e.svc.CommitAggregates(ctx, billing.KindWeekly, weekStart, weekEnd)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Empty(t, res.Duplicates)
	assert.Equal(t, parent.ID, res.Created[0].PartyID)
	assert.True(t, res.Created[0].Total.Equal(testutil.MustDecimal(t, "70.00")))

	// the window is write-once: a re-commit reports the party, creates nothing
	res, err = e.svc.CommitAggregates(ctx, billing.KindWeekly, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, []string{parent.ID}, res.Duplicates)
}

func TestService_RunInvoiceBatch(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	parentA, studentA := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	parentB, studentB := testutil.CreateFamily(t, e.usrRepo, "b", "40.00", "40.00")
	parentC, studentC := testutil.CreateFamily(t, e.usrRepo, "c", "50.00", "50.00")
	tutor := testutil.CreateTutor(t, e.usrRepo, "t", "20.00", "25.00")

	seedHours(t, e, tutor.ID, parentA.ID, studentA.ID, "2", hours.ChannelOnline, 0)
	seedHours(t, e, tutor.ID, parentB.ID, studentB.ID, "1", hours.ChannelOnline, 0)
	recC := seedHours(t, e, tutor.ID, parentC.ID, studentC.ID, "1", hours.ChannelOnline, 0)

	// parentC's processor customer is primed to fail terminally
	require.NoError(t, e.usrRepo.SetCustomerID(ctx, parentC.ID, "cus_bad"))
	e.pay.FailFor["cus_bad"] = false

	res, err := e.svc.RunInvoiceBatch(ctx, weekStart, weekEnd)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{parentA.ID, parentB.ID}, res.Succeeded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, parentC.ID, res.Errors[0].PartyID)
	assert.Contains(t, res.Errors[0].Reason, "primed failure")

	// charged amounts are exact minor units
	require.Len(t, e.pay.Charges, 2)
	amounts := []int64{e.pay.Charges[0].AmountMinor, e.pay.Charges[1].AmountMinor}
	assert.ElementsMatch(t, []int64{7000, 4000}, amounts)

	// the customer created on first use is persisted back on the parent
	parentA, err = e.usrRepo.GetUserByID(ctx, parentA.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, parentA.CustomerID)

	// the failed party's records stay pending; a re-run picks up only them
	recC, err = e.hourRepo.GetHourRecord(ctx, recC.ID)
	require.NoError(t, err)
	assert.False(t, recC.Invoiced())

	delete(e.pay.FailFor, "cus_bad")
	res, err = e.svc.RunInvoiceBatch(ctx, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{parentC.ID}, res.Succeeded)
	assert.Empty(t, res.Errors)

	recC, err = e.hourRepo.GetHourRecord(ctx, recC.ID)
	require.NoError(t, err)
	assert.True(t, recC.Invoiced())

	// everything is invoiced now, so a third run is a no-op
	res, err = e.svc.RunInvoiceBatch(ctx, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Errors)
}

func TestService_RunPayoutBatch(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	parent, student := testutil.CreateFamily(t, e.usrRepo, "a", "35.00", "60.00")
	paid := testutil.CreateTutor(t, e.usrRepo, "paid", "20.00", "25.00")
	unconnected := testutil.CreateTutor(t, e.usrRepo, "unconnected", "30.00", "30.00")

	require.NoError(t, e.usrRepo.SetPayoutAccountID(ctx, paid.ID, "acct_paid"))

	seedHours(t, e, paid.ID, parent.ID, student.ID, "2", hours.ChannelOnline, 0)
	seedHours(t, e, unconnected.ID, parent.ID, student.ID, "1", hours.ChannelOnline, 3)

	res, err := e.svc.RunPayoutBatch(ctx, weekStart, weekEnd)
	require.NoError(t, err)

	assert.Equal(t, []string{paid.ID}, res.Succeeded)
	// no payout account yet: skipped, not failed
	assert.Equal(t, []string{unconnected.ID}, res.Skipped)
	assert.Empty(t, res.Errors)

	require.Len(t, e.pay.Transfers, 1)
	assert.Equal(t, "acct_paid", e.pay.Transfers[0].AccountID)
	assert.Equal(t, int64(4000), e.pay.Transfers[0].AmountMinor)

	// the recorded payout guards the window on a re-run
	res, err = e.svc.RunPayoutBatch(ctx, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.ElementsMatch(t, []string{paid.ID, unconnected.ID}, res.Skipped)
	assert.Len(t, e.pay.Transfers, 1, "no second transfer for a paid window")
}
