package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

// NewConfig returns a self-contained test configuration; nothing is read from
// the environment.
func NewConfig() *core.Config {
	return &core.Config{
		Env:      "TEST",
		TestMode: true,
		AppName:  "ClassHour",
		Build:    "test",

		SecretKey:       "test-secret-key",
		FrontendBaseURL: "http://localhost:3000",
		TimeZone:        time.UTC,

		Server: core.ServerConfig{
			Addr:                      ":0",
			JWTExpirationDelta:        7 * 24 * time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Queue: core.QueueConfig{
			MaxAttempts:  3,
			RetryBackoff: time.Millisecond,
		},
		Billing: core.BillingConfig{
			Currency:             "usd",
			ChargeChunkSize:      10,
			MaxSessionHours:      10,
			ReferralRewardAmount: "25.00",
			ReferralThreshold:    4,
		},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateFamily creates a parent with the given invoice rates and a student
// linked to them.
func CreateFamily(t *testing.T, repo user.Repository, tag, onlineRate, inPersonRate string) (parent, student user.User) {
	t.Helper()

	parent = CreateUser(t, repo, "Parent "+tag, "parent-"+tag, "parent-"+tag+"@test.cd", "", user.RoleParent, true)
	SetRates(t, repo, &parent, onlineRate, inPersonRate)

	student = user.User{
		Name:      "Student " + tag,
		Username:  "student-" + tag,
		Email:     "student-" + tag + "@test.cd",
		Role:      user.RoleStudent,
		ParentID:  parent.ID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	student, err := repo.CreateUser(context.Background(), student)
	if err != nil {
		t.Fatalf("CreateFamily() failed: %v", err)
	}
	return parent, student
}

// CreateTutor creates an active tutor with the given payout rates.
func CreateTutor(t *testing.T, repo user.Repository, tag, onlineRate, inPersonRate string) user.User {
	t.Helper()
	tutor := CreateUser(t, repo, "Tutor "+tag, "tutor-"+tag, "tutor-"+tag+"@test.cd", "", user.RoleTutor, true)
	SetRates(t, repo, &tutor, onlineRate, inPersonRate)
	return tutor
}

// SetRates updates a user's hourly rates in place.
func SetRates(t *testing.T, repo user.Repository, usr *user.User, online, inPerson string) {
	t.Helper()
	usr.OnlineRate = MustDecimal(t, online)
	usr.InPersonRate = MustDecimal(t, inPerson)
	updated, err := repo.UpdateUser(context.Background(), *usr, nil)
	if err != nil {
		t.Fatalf("SetRates() failed: %v", err)
	}
	*usr = updated
}

func MustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("MustDecimal(%q) failed: %v", s, err)
	}
	return d
}
