package complaint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhour/backend/core/complaint"
	"github.com/classhour/backend/core/user"
	emailsvc "github.com/classhour/backend/services/email"
	inmemdb "github.com/classhour/backend/storage/database/inmem"
	testutil "github.com/classhour/backend/tests"
)

func setup(t *testing.T) (*complaint.Service, user.Repository) {
	t.Helper()
	emailsvc.ClearSentMessages()

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	conf := testutil.NewConfig()
	usrSvc := user.NewService(usrRepo, nil, conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	svc := complaint.NewService(inmemdb.NewComplaintRepository(db), usrSvc, mailSvc, conf)
	return svc, usrRepo
}

func TestService_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("opens pending against a tutor", func(t *testing.T) {
		svc, usrRepo := setup(t)
		parent, _ := testutil.CreateFamily(t, usrRepo, "a", "35.00", "60.00")
		tutor := testutil.CreateTutor(t, usrRepo, "t", "20.00", "25.00")

		c, err := svc.Open(ctx, parent, complaint.NewComplaint{TutorID: tutor.ID, Text: "always late"})
		require.NoError(t, err)

		assert.Equal(t, tutor.ID, c.TutorID)
		assert.Equal(t, parent.ID, c.RaisedByID)
		assert.Equal(t, complaint.StatusPending, c.Status)
	})

	t.Run("target must be a tutor", func(t *testing.T) {
		svc, usrRepo := setup(t)
		parent, _ := testutil.CreateFamily(t, usrRepo, "a", "35.00", "60.00")
		other, _ := testutil.CreateFamily(t, usrRepo, "b", "40.00", "40.00")

		_, err := svc.Open(ctx, parent, complaint.NewComplaint{TutorID: other.ID, Text: "bad"})
		assert.EqualError(t, err, "complaints can only target tutors")
	})
}

func TestService_StatusMachine(t *testing.T) {
	ctx := context.Background()

	open := func(t *testing.T, svc *complaint.Service, usrRepo user.Repository) (user.User, user.User, complaint.Complaint) {
		t.Helper()
		parent, _ := testutil.CreateFamily(t, usrRepo, "a", "35.00", "60.00")
		tutor := testutil.CreateTutor(t, usrRepo, "t", "20.00", "25.00")
		admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", user.RoleAdmin, true)

		c, err := svc.Open(ctx, parent, complaint.NewComplaint{TutorID: tutor.ID, Text: "always late"})
		require.NoError(t, err)
		return parent, admin, c
	}

	t.Run("pending to reviewed to resolved", func(t *testing.T) {
		svc, usrRepo := setup(t)
		parent, admin, c := open(t, svc, usrRepo)

		c, err := svc.Review(ctx, admin, c.ID, complaint.Reply{Reply: "looking into it"})
		require.NoError(t, err)
		assert.Equal(t, complaint.StatusReviewed, c.Status)
		assert.Equal(t, admin.ID, c.ReviewedByID)

		c, err = svc.Resolve(ctx, admin, c.ID, complaint.Reply{Reply: "tutor was warned"})
		require.NoError(t, err)
		assert.Equal(t, complaint.StatusResolved, c.Status)
		assert.Equal(t, admin.ID, c.ResolvedByID)
		assert.Equal(t, "tutor was warned", c.AdminReply)

		// the complainer is notified on resolution
		require.Len(t, emailsvc.SentMessages, 1)
		msg := emailsvc.SentMessages[0]
		require.Len(t, msg.To, 1)
		assert.Equal(t, parent.Email, msg.To[0].Address)
		assert.Contains(t, msg.TextContent, "tutor was warned")
	})

	t.Run("resolve requires a prior review", func(t *testing.T) {
		svc, usrRepo := setup(t)
		_, admin, c := open(t, svc, usrRepo)

		_, err := svc.Resolve(ctx, admin, c.ID, complaint.Reply{Reply: "done"})
		assert.EqualError(t, err, "complaint is not reviewed")
		assert.Empty(t, emailsvc.SentMessages)
	})

	t.Run("a reviewed complaint cannot be reviewed again", func(t *testing.T) {
		svc, usrRepo := setup(t)
		_, admin, c := open(t, svc, usrRepo)

		_, err := svc.Review(ctx, admin, c.ID, complaint.Reply{Reply: "first"})
		require.NoError(t, err)
		_, err = svc.Review(ctx, admin, c.ID, complaint.Reply{Reply: "second"})
		assert.EqualError(t, err, "complaint is not pending")
	})

	t.Run("only admins advance complaints", func(t *testing.T) {
		svc, usrRepo := setup(t)
		parent, _, c := open(t, svc, usrRepo)

		_, err := svc.Review(ctx, parent, c.ID, complaint.Reply{Reply: "me"})
		assert.EqualError(t, err, "admin only")
	})
}

func TestService_Filter(t *testing.T) {
	ctx := context.Background()
	svc, usrRepo := setup(t)

	parent, _ := testutil.CreateFamily(t, usrRepo, "a", "35.00", "60.00")
	tutorA := testutil.CreateTutor(t, usrRepo, "ta", "20.00", "25.00")
	tutorB := testutil.CreateTutor(t, usrRepo, "tb", "30.00", "30.00")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", user.RoleAdmin, true)

	a, err := svc.Open(ctx, parent, complaint.NewComplaint{TutorID: tutorA.ID, Text: "late"})
	require.NoError(t, err)
	_, err = svc.Open(ctx, parent, complaint.NewComplaint{TutorID: tutorB.ID, Text: "rude"})
	require.NoError(t, err)
	_, err = svc.Review(ctx, admin, a.ID, complaint.Reply{Reply: "noted"})
	require.NoError(t, err)

	byTutor, err := svc.Filter(ctx, tutorA.ID, "")
	require.NoError(t, err)
	require.Len(t, byTutor, 1)
	assert.Equal(t, tutorA.ID, byTutor[0].TutorID)

	pending, err := svc.Filter(ctx, "", complaint.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tutorB.ID, pending[0].TutorID)

	all, err := svc.Filter(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
