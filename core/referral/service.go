package referral

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/user"
)

var ErrNotFound = core.NewNotFoundError("referral not found")

type (
	Repository interface {
		CreateReferral(ctx context.Context, r Referral) (Referral, error)
		GetByCode(ctx context.Context, code string) (Referral, error)
		GetByReferrerID(ctx context.Context, referrerID string) ([]Referral, error)
		GetByReferredID(ctx context.Context, referredID string) (Referral, error)
		Claim(ctx context.Context, id, referredID string) (Referral, error)
		// ApplyReward takes a row lock on the referral, re-reads it, and asks
		// fn whether to fire; when fn returns true the reward flag and status
		// flip in the same transaction. This makes the check-and-flip atomic
		// against concurrent hour updates.
		ApplyReward(ctx context.Context, id string, fn func(Referral) (bool, error)) error
	}

	// HoursLedger is the slice of the hour store the reward trigger needs.
	HoursLedger interface {
		AcceptedHoursTotal(ctx context.Context, studentID string) (decimal.Decimal, error)
	}

	Service struct {
		repo   Repository
		ledger HoursLedger
		users  *user.Service
		pay    core.PaymentService
		conf   *core.Config
		logger core.Logger
	}
)

func NewService(repo Repository, ledger HoursLedger, users *user.Service, pay core.PaymentService, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		users:  users,
		pay:    pay,
		conf:   conf,
		logger: logger,
	}
}

// CreateCode generates a referral code for a referrer.
func (svc *Service) CreateCode(ctx context.Context, referrer user.User) (Referral, error) {
	amount, err := decimal.NewFromString(svc.conf.Billing.ReferralRewardAmount)
	if err != nil {
		return Referral{}, errors.Wrap(err, "parsing reward amount")
	}
	return svc.repo.CreateReferral(ctx, Referral{
		ReferrerID:   referrer.ID,
		Code:         newCode(),
		Status:       StatusCreated,
		RewardAmount: amount,
		CreatedAt:    time.Now().UTC(),
	})
}

// Claim binds a signed-up student to the referral behind a code.
func (svc *Service) Claim(ctx context.Context, code string, student user.User) (Referral, error) {
	if !student.IsStudent() {
		return Referral{}, core.NewValidationError(errors.New("only students can claim a referral code"))
	}
	if _, err := svc.repo.GetByReferredID(ctx, student.ID); err == nil {
		return Referral{}, core.NewConflictError("student is already referred")
	}
	ref, err := svc.repo.GetByCode(ctx, core.CleanString(code, true /* lower */))
	if err != nil {
		return Referral{}, err
	}
	if ref.Status != StatusCreated {
		return Referral{}, core.NewConflictError("referral code has already been claimed")
	}
	return svc.repo.Claim(ctx, ref.ID, student.ID)
}

func (svc *Service) ForReferrer(ctx context.Context, referrerID string) ([]Referral, error) {
	return svc.repo.GetByReferrerID(ctx, referrerID)
}

// HandleHourAccepted fires the reward when the referred student's cumulative
// accepted hours cross the configured threshold. The check runs under a row
// lock and is guarded by the reward flag, so the credit is issued at most
// once per referral; the idempotency key protects against a double-delivered
// event on top of that.
func (svc *Service) HandleHourAccepted(ctx context.Context, ev core.Event) error {
	accepted, ok := ev.(hours.HourAccepted)
	if !ok {
		return nil
	}
	ref, err := svc.repo.GetByReferredID(ctx, accepted.Record.StudentID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return errors.Wrap(err, "looking up referral")
	}
	if ref.RewardApplied {
		return nil
	}

	threshold := decimal.NewFromInt(int64(svc.conf.Billing.ReferralThreshold))
	return svc.repo.ApplyReward(ctx, ref.ID, func(locked Referral) (bool, error) {
		if locked.RewardApplied {
			return false, nil
		}
		total, err := svc.ledger.AcceptedHoursTotal(ctx, locked.ReferredID)
		if err != nil {
			return false, errors.Wrap(err, "summing accepted hours")
		}
		if total.LessThan(threshold) {
			return false, nil
		}
		if err = svc.issueCredit(ctx, locked); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (svc *Service) issueCredit(ctx context.Context, ref Referral) error {
	referrer, err := svc.users.GetByID(ctx, ref.ReferrerID)
	if err != nil {
		return errors.Wrap(err, "resolving referrer")
	}

	customerID := referrer.CustomerID
	if customerID == "" {
		if customerID, err = svc.pay.CreateOrFindCustomer(ctx, referrer.Email, referrer.Name); err != nil {
			return errors.Wrap(err, "resolving referrer customer")
		}
		if err = svc.users.SetCustomerID(ctx, referrer.ID, customerID); err != nil {
			return errors.Wrap(err, "persisting referrer customer id")
		}
	}

	_, err = svc.pay.CreateCredit(ctx, core.CreditRequest{
		CustomerID:     customerID,
		AmountMinor:    ref.RewardAmount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Currency:       svc.conf.Billing.Currency,
		Description:    "Referral reward",
		IdempotencyKey: "referral-credit:" + ref.ID,
	})
	return errors.Wrap(err, "issuing referral credit")
}

func newCode() string {
	return strings.ToLower(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
