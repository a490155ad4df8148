package hours

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

// fixedNow is a Wednesday; the surrounding week is Mon 2024-07-15 to
// Sun 2024-07-21.
var fixedNow = time.Date(2024, time.July, 17, 18, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *fakeRepo, *stubUserRepo) {
	t.Helper()
	nowFunc = func() time.Time { return fixedNow }
	t.Cleanup(func() { nowFunc = time.Now })

	conf := &core.Config{
		TimeZone: time.UTC,
		Billing:  core.BillingConfig{MaxSessionHours: 10},
	}
	usrRepo := newStubUserRepo()
	repo := newFakeRepo()
	usrSvc := user.NewService(usrRepo, nil, conf)
	return NewService(repo, usrSvc, conf), repo, usrRepo
}

func seedFamily(t *testing.T, usrRepo *stubUserRepo) (tutor, parent, student user.User) {
	t.Helper()
	tutor = usrRepo.add(user.User{Name: "Tutor", Role: user.RoleTutor, IsActive: true})
	parent = usrRepo.add(user.User{Name: "Parent", Role: user.RoleParent, IsActive: true})
	student = usrRepo.add(user.User{Name: "Student", Role: user.RoleStudent, ParentID: parent.ID, IsActive: true})
	return tutor, parent, student
}

func TestService_Log(t *testing.T) {
	ctx := context.Background()

	t.Run("logs a current week session", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, parent, student := seedFamily(t, usrRepo)

		rec, events, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID,
			Date:      "2024-07-16",
			StartTime: "14:00",
			EndTime:   "15:30",
			Channel:   "online",
			Subject:   "Algebra",
		})
		require.NoError(t, err)

		assert.Equal(t, tutor.ID, rec.TutorID)
		assert.Equal(t, parent.ID, rec.ParentID)
		assert.Equal(t, StatusAccepted, rec.Status)
		assert.Equal(t, EligibilityEligible, rec.Eligibility)
		assert.Equal(t, InvoicePending, rec.InvoiceStatus)
		assert.True(t, rec.Duration.Equal(decimal.RequireFromString("1.5")), "duration = %s", rec.Duration)

		require.Len(t, events, 1)
		assert.Equal(t, "hours.accepted", events[0].EventName())
	})

	t.Run("rejects the same session twice", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)

		nh := NewHourRecord{StudentID: student.ID, Date: "2024-07-16", StartTime: "14:00", EndTime: "15:00"}
		_, _, err := svc.Log(ctx, tutor.ID, nh)
		require.NoError(t, err)

		_, _, err = svc.Log(ctx, tutor.ID, nh)
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("allows the same slot for another student", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, parent, student := seedFamily(t, usrRepo)
		sibling := usrRepo.add(user.User{Name: "Sibling", Role: user.RoleStudent, ParentID: parent.ID, IsActive: true})

		nh := NewHourRecord{StudentID: student.ID, Date: "2024-07-16", StartTime: "14:00", EndTime: "15:00"}
		_, _, err := svc.Log(ctx, tutor.ID, nh)
		require.NoError(t, err)

		nh.StudentID = sibling.ID
		_, _, err = svc.Log(ctx, tutor.ID, nh)
		assert.NoError(t, err)
	})

	t.Run("rejects a future session", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)

		_, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID,
			Date:      "2024-07-17",
			StartTime: "19:00", // past fixedNow
			EndTime:   "20:00",
		})
		assert.EqualError(t, err, "session cannot be in the future")
	})

	t.Run("rejects a session outside the current week", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)

		_, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID,
			Date:      "2024-07-10",
			StartTime: "14:00",
			EndTime:   "15:00",
		})
		assert.EqualError(t, err, "sessions can only be logged for the current week")
	})

	t.Run("rejects a session over the duration ceiling", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)

		_, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID,
			Date:      "2024-07-15",
			StartTime: "01:00",
			EndTime:   "12:30", // 11.5h
		})
		assert.EqualError(t, err, "session duration must be between 0 and 10 hours")
	})

	t.Run("rejects an inverted session", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)

		_, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID,
			Date:      "2024-07-16",
			StartTime: "15:00",
			EndTime:   "14:00",
		})
		assert.EqualError(t, err, "session end must be after its start")
	})

	t.Run("rejects a student without a parent", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor := usrRepo.add(user.User{Name: "Tutor", Role: user.RoleTutor, IsActive: true})
		orphan := usrRepo.add(user.User{Name: "Orphan", Role: user.RoleStudent, IsActive: true})

		_, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: orphan.ID,
			Date:      "2024-07-16",
			StartTime: "14:00",
			EndTime:   "15:00",
		})
		assert.EqualError(t, err, "student has no registered parent")
	})
}

func TestService_BulkLog(t *testing.T) {
	ctx := context.Background()
	svc, _, usrRepo := setup(t)
	tutor, _, student := seedFamily(t, usrRepo)

	entries := []BulkHourRecord{
		{ // in-week: eligible
			TutorID:       tutor.ID,
			NewHourRecord: NewHourRecord{StudentID: student.ID, Date: "2024-07-16", StartTime: "10:00", EndTime: "11:00"},
		},
		{ // backfilled outside the week: late
			TutorID:       tutor.ID,
			NewHourRecord: NewHourRecord{StudentID: student.ID, Date: "2024-06-03", StartTime: "10:00", EndTime: "11:00"},
		},
		{ // unknown student: reported, batch continues
			TutorID:       tutor.ID,
			NewHourRecord: NewHourRecord{StudentID: "nope", Date: "2024-07-16", StartTime: "12:00", EndTime: "13:00"},
		},
		{ // future: reported
			TutorID:       tutor.ID,
			NewHourRecord: NewHourRecord{StudentID: student.ID, Date: "2024-07-20", StartTime: "10:00", EndTime: "11:00"},
		},
	}

	created, events, bulkErrs := svc.BulkLog(ctx, entries)

	require.Len(t, created, 2)
	assert.Equal(t, EligibilityEligible, created[0].Eligibility)
	assert.Equal(t, EligibilityLate, created[1].Eligibility)
	assert.Len(t, events, 2)

	require.Len(t, bulkErrs, 2)
	assert.Equal(t, 2, bulkErrs[0].Index)
	assert.Equal(t, "student has no registered parent", bulkErrs[0].Reason)
	assert.Equal(t, 3, bulkErrs[1].Index)
	assert.Equal(t, "session cannot be in the future", bulkErrs[1].Reason)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()

	log := func(t *testing.T, svc *Service, tutorID, studentID string) HourRecord {
		t.Helper()
		rec, _, err := svc.Log(ctx, tutorID, NewHourRecord{
			StudentID: studentID,
			Date:      "2024-07-16",
			StartTime: "14:00",
			EndTime:   "15:00",
			Subject:   "Algebra",
		})
		require.NoError(t, err)
		return rec
	}

	t.Run("records edit history", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)
		rec := log(t, svc, tutor.ID, student.ID)

		updated, err := svc.Update(ctx, tutor, rec.ID, UpdateHourRecord{
			EndTime: "16:00",
			Subject: "Geometry",
		})
		require.NoError(t, err)

		assert.True(t, updated.Duration.Equal(decimal.NewFromInt(2)), "duration = %s", updated.Duration)
		require.Len(t, updated.Edits, 2)
		assert.Equal(t, Edit{Field: "end_time", From: "15:00", To: "16:00", At: updated.Edits[0].At}, updated.Edits[0])
		assert.Equal(t, Edit{Field: "subject", From: "Algebra", To: "Geometry", At: updated.Edits[1].At}, updated.Edits[1])
	})

	t.Run("only the logging tutor may edit", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)
		other := usrRepo.add(user.User{Name: "Other", Role: user.RoleTutor, IsActive: true})
		rec := log(t, svc, tutor.ID, student.ID)

		_, err := svc.Update(ctx, other, rec.ID, UpdateHourRecord{Subject: "Geometry"})
		assert.EqualError(t, err, "only the logging tutor may edit this record")
	})

	t.Run("rejects edits on an invoiced record", func(t *testing.T) {
		svc, repo, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)
		rec := log(t, svc, tutor.ID, student.ID)

		repo.markInvoiced(rec.ID)
		_, err := svc.Update(ctx, tutor, rec.ID, UpdateHourRecord{Subject: "Geometry"})
		assert.EqualError(t, err, "record has already been invoiced")
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, repo, usrRepo := setup(t)
	tutor, _, student := seedFamily(t, usrRepo)

	rec, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
		StudentID: student.ID, Date: "2024-07-16", StartTime: "14:00", EndTime: "15:00",
	})
	require.NoError(t, err)

	other := usrRepo.add(user.User{Name: "Other", Role: user.RoleTutor, IsActive: true})
	err = svc.Delete(ctx, other, rec.ID)
	assert.EqualError(t, err, "only the logging tutor may delete this record")

	repo.markInvoiced(rec.ID)
	err = svc.Delete(ctx, tutor, rec.ID)
	assert.EqualError(t, err, "record has already been invoiced")

	repo.unmarkInvoiced(rec.ID)
	require.NoError(t, svc.Delete(ctx, tutor, rec.ID))
	_, err = svc.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Disputes(t *testing.T) {
	ctx := context.Background()

	logAndDispute := func(t *testing.T, svc *Service, usrRepo *stubUserRepo) (user.User, user.User, HourRecord, Dispute) {
		t.Helper()
		tutor, parent, student := seedFamily(t, usrRepo)
		rec, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID, Date: "2024-07-16", StartTime: "14:00", EndTime: "15:00",
		})
		require.NoError(t, err)

		d, events, err := svc.OpenDispute(ctx, parent, rec.ID, NewDispute{Reason: "session never happened"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "hours.disputed", events[0].EventName())
		return tutor, parent, rec, d
	}

	t.Run("open flips the record to disputed", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, _, rec, d := logAndDispute(t, svc, usrRepo)

		assert.Equal(t, DisputePending, d.Status)
		got, err := svc.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDisputed, got.Status)
	})

	t.Run("only the billed parent may dispute", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, student := seedFamily(t, usrRepo)
		stranger := usrRepo.add(user.User{Name: "Stranger", Role: user.RoleParent, IsActive: true})

		rec, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID, Date: "2024-07-16", StartTime: "14:00", EndTime: "15:00",
		})
		require.NoError(t, err)

		_, _, err = svc.OpenDispute(ctx, stranger, rec.ID, NewDispute{Reason: "nope"})
		assert.EqualError(t, err, "only the billed parent may dispute this record")
	})

	t.Run("a disputed record cannot be disputed again", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, parent, rec, _ := logAndDispute(t, svc, usrRepo)

		_, _, err := svc.OpenDispute(ctx, parent, rec.ID, NewDispute{Reason: "again"})
		assert.EqualError(t, err, "record is already disputed")
	})

	t.Run("tutor reply lands on the record", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		tutor, _, _, d := logAndDispute(t, svc, usrRepo)

		rec, err := svc.ReplyToDispute(ctx, tutor, d.ID, "it did happen")
		require.NoError(t, err)
		assert.Equal(t, "it did happen", rec.TutorReply)
	})

	t.Run("resolve keeps the record billable", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, _, rec, d := logAndDispute(t, svc, usrRepo)
		admin := usrRepo.add(user.User{Name: "Admin", Role: user.RoleAdmin, IsActive: true})

		closed, err := svc.ResolveDispute(ctx, admin, d.ID, DisputeReply{Reply: "tutor agreed"})
		require.NoError(t, err)
		assert.Equal(t, DisputeResolved, closed.Status)
		assert.Equal(t, admin.ID, closed.ResolvedByID)

		got, err := svc.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusResolved, got.Status)
	})

	t.Run("dismiss restores the record to accepted", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, _, rec, d := logAndDispute(t, svc, usrRepo)
		admin := usrRepo.add(user.User{Name: "Admin", Role: user.RoleAdmin, IsActive: true})

		closed, err := svc.DismissDispute(ctx, admin, d.ID, DisputeReply{Reply: "no grounds"})
		require.NoError(t, err)
		assert.Equal(t, DisputeDismissed, closed.Status)

		got, err := svc.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, got.Status)
	})

	t.Run("complainer may cancel a pending dispute", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, parent, rec, d := logAndDispute(t, svc, usrRepo)

		cancelled, err := svc.CancelDispute(ctx, parent, d.ID)
		require.NoError(t, err)
		assert.Equal(t, DisputeCancelled, cancelled.Status)

		got, err := svc.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, got.Status)
	})

	t.Run("a closed dispute stays closed", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, parent, _, d := logAndDispute(t, svc, usrRepo)
		admin := usrRepo.add(user.User{Name: "Admin", Role: user.RoleAdmin, IsActive: true})

		_, err := svc.ResolveDispute(ctx, admin, d.ID, DisputeReply{Reply: "done"})
		require.NoError(t, err)

		_, err = svc.DismissDispute(ctx, admin, d.ID, DisputeReply{Reply: "again"})
		assert.EqualError(t, err, "dispute is no longer pending")
		_, err = svc.CancelDispute(ctx, parent, d.ID)
		assert.EqualError(t, err, "dispute is no longer pending")
	})

	t.Run("admin only closes disputes", func(t *testing.T) {
		svc, _, usrRepo := setup(t)
		_, parent, _, d := logAndDispute(t, svc, usrRepo)

		_, err := svc.ResolveDispute(ctx, parent, d.ID, DisputeReply{Reply: "me"})
		assert.EqualError(t, err, "admin only")
	})
}

func TestService_AcceptedHoursTotal(t *testing.T) {
	ctx := context.Background()
	svc, _, usrRepo := setup(t)
	tutor, parent, student := seedFamily(t, usrRepo)

	sessions := []struct{ start, end string }{
		{"10:00", "11:30"}, // 1.5
		{"12:00", "13:00"}, // 1.0
	}
	for _, s := range sessions {
		_, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
			StudentID: student.ID, Date: "2024-07-16", StartTime: s.start, EndTime: s.end,
		})
		require.NoError(t, err)
	}

	// a disputed session does not count
	rec, _, err := svc.Log(ctx, tutor.ID, NewHourRecord{
		StudentID: student.ID, Date: "2024-07-16", StartTime: "14:00", EndTime: "15:00",
	})
	require.NoError(t, err)
	_, _, err = svc.OpenDispute(ctx, parent, rec.ID, NewDispute{Reason: "no"})
	require.NoError(t, err)

	total, err := svc.AcceptedHoursTotal(ctx, student.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("2.5")), "total = %s", total)
}

// fakes

type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	records  map[string]HourRecord
	disputes map[string]Dispute
}

var _ Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:  make(map[string]HourRecord),
		disputes: make(map[string]Dispute),
	}
}

func (r *fakeRepo) nextID() string {
	r.seq++
	return strconv.Itoa(r.seq)
}

func (r *fakeRepo) sameSession(a, b HourRecord) bool {
	return a.TutorID == b.TutorID && a.StudentID == b.StudentID &&
		a.Date.Equal(b.Date) && a.StartsAt.Equal(b.StartsAt) && a.EndsAt.Equal(b.EndsAt)
}

func (r *fakeRepo) CreateHourRecord(ctx context.Context, rec HourRecord) (HourRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.records {
		if r.sameSession(cur, rec) {
			return HourRecord{}, ErrDuplicate
		}
	}
	rec.ID = r.nextID()
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *fakeRepo) GetHourRecord(ctx context.Context, id string) (HourRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return HourRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) UpdateHourRecord(ctx context.Context, rec HourRecord) (HourRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; !ok {
		return HourRecord{}, ErrNotFound
	}
	for _, cur := range r.records {
		if cur.ID != rec.ID && r.sameSession(cur, rec) {
			return HourRecord{}, ErrDuplicate
		}
	}
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *fakeRepo) DeleteHourRecord(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) FilterHourRecords(ctx context.Context, filter QueryFilter) ([]HourRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recs []HourRecord
	for _, rec := range r.records {
		if filter.TutorID != "" && rec.TutorID != filter.TutorID {
			continue
		}
		if filter.StudentID != "" && rec.StudentID != filter.StudentID {
			continue
		}
		if filter.ParentID != "" && rec.ParentID != filter.ParentID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (r *fakeRepo) AcceptedHoursTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, rec := range r.records {
		if rec.StudentID != studentID {
			continue
		}
		if rec.Status == StatusAccepted || rec.Status == StatusResolved {
			total = total.Add(rec.Duration)
		}
	}
	return total, nil
}

func (r *fakeRepo) CreateDispute(ctx context.Context, d Dispute) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.nextID()
	r.disputes[d.ID] = d
	return d, nil
}

func (r *fakeRepo) GetDispute(ctx context.Context, id string) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[id]
	if !ok {
		return Dispute{}, ErrDisputeNotFound
	}
	return d, nil
}

func (r *fakeRepo) UpdateDispute(ctx context.Context, d Dispute) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.disputes[d.ID]; !ok {
		return Dispute{}, ErrDisputeNotFound
	}
	r.disputes[d.ID] = d
	return d, nil
}

func (r *fakeRepo) markInvoiced(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	rec.InvoiceStatus = InvoiceInvoiced
	r.records[id] = rec
}

func (r *fakeRepo) unmarkInvoiced(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	rec.InvoiceStatus = InvoicePending
	r.records[id] = rec
}

type stubUserRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]user.User
}

var _ user.Repository = (*stubUserRepo)(nil)

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]user.User)}
}

func (r *stubUserRepo) add(usr user.User) user.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	usr.ID = strconv.Itoa(r.seq)
	r.users[usr.ID] = usr
	return usr
}

func (r *stubUserRepo) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	return nil
}

func (r *stubUserRepo) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	return r.add(usr), nil
}

func (r *stubUserRepo) GetUserByID(ctx context.Context, id string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usr, ok := r.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (r *stubUserRepo) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return user.User{}, user.ErrNotFound
}

func (r *stubUserRepo) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return user.User{}, user.ErrNotFound
}

func (r *stubUserRepo) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return user.User{}, user.ErrNotFound
}

func (r *stubUserRepo) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	return nil, nil
}

func (r *stubUserRepo) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	r.users[usr.ID] = usr
	return usr, nil
}

func (r *stubUserRepo) SetLastLogin(ctx context.Context, usr user.User) error { return nil }

func (r *stubUserRepo) SetCustomerID(ctx context.Context, id, customerID string) error { return nil }

func (r *stubUserRepo) SetPayoutAccountID(ctx context.Context, id, accountID string) error {
	return nil
}

func (r *stubUserRepo) SetCalendarToken(ctx context.Context, id string, tok core.OAuthToken) error {
	return nil
}

func (r *stubUserRepo) RatesByID(ctx context.Context, ids []string) (map[string]user.Rates, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rates := make(map[string]user.Rates, len(ids))
	for _, id := range ids {
		if usr, ok := r.users[id]; ok {
			rates[id] = usr.Rates()
		}
	}
	return rates, nil
}

func (r *stubUserRepo) DeleteUsersByID(ctx context.Context, ids ...string) error { return nil }
