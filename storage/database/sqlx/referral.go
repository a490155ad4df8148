package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/referral"
)

type referralRow struct {
	ID            string          `db:"id"`
	ReferrerID    string          `db:"referrer_id"`
	ReferredID    null.String     `db:"referred_id"`
	Code          string          `db:"code"`
	Status        string          `db:"status"`
	RewardApplied bool            `db:"reward_applied"`
	RewardAmount  decimal.Decimal `db:"reward_amount"`
	CreatedAt     time.Time       `db:"created_at"`
	AppliedAt     null.Time       `db:"applied_at"`
}

func (r referralRow) toReferral() referral.Referral {
	return referral.Referral{
		ID:            r.ID,
		ReferrerID:    r.ReferrerID,
		ReferredID:    r.ReferredID.String,
		Code:          r.Code,
		Status:        referral.Status(r.Status),
		RewardApplied: r.RewardApplied,
		RewardAmount:  r.RewardAmount,
		CreatedAt:     r.CreatedAt,
		AppliedAt:     r.AppliedAt.Time,
	}
}

type referralRepository struct {
	db *sqlx.DB
}

var _ referral.Repository = (*referralRepository)(nil) // interface compliance check

func NewReferralRepository(db *sqlx.DB) *referralRepository {
	return &referralRepository{db: db}
}

func (repo referralRepository) CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error) {
	r.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO referral (
			id, referrer_id, referred_id, code, status,
			reward_applied, reward_amount, created_at, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.ReferrerID, null.NewString(r.ReferredID, r.ReferredID != ""),
		r.Code, string(r.Status), r.RewardApplied, r.RewardAmount,
		r.CreatedAt.UTC(), null.NewTime(r.AppliedAt.UTC(), !r.AppliedAt.IsZero()))
	if err != nil {
		if isUniqueViolation(err, "") {
			return referral.Referral{}, core.NewConflictError("referral code collision")
		}
		return referral.Referral{}, errors.Wrap(err, "inserting referral")
	}
	return r, nil
}

func (repo referralRepository) getBy(ctx context.Context, clause string, args ...interface{}) (referral.Referral, error) {
	var row referralRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM referral WHERE `+clause, args...); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return referral.Referral{}, referral.ErrNotFound
		}
		return referral.Referral{}, errors.Wrap(err, "getting referral")
	}
	return row.toReferral(), nil
}

func (repo referralRepository) GetByCode(ctx context.Context, code string) (referral.Referral, error) {
	return repo.getBy(ctx, "code = $1", code)
}

func (repo referralRepository) GetByReferredID(ctx context.Context, referredID string) (referral.Referral, error) {
	return repo.getBy(ctx, "referred_id = $1", referredID)
}

func (repo referralRepository) GetByReferrerID(ctx context.Context, referrerID string) ([]referral.Referral, error) {
	var rows []referralRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM referral WHERE referrer_id = $1 ORDER BY created_at DESC`, referrerID)
	if err != nil {
		return nil, errors.Wrap(err, "listing referrals")
	}
	refs := make([]referral.Referral, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, r.toReferral())
	}
	return refs, nil
}

func (repo referralRepository) Claim(ctx context.Context, id, referredID string) (referral.Referral, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE referral SET referred_id = $1, status = $2
		WHERE id = $3 AND referred_id IS NULL`,
		referredID, string(referral.StatusRewardPending), id)
	if err != nil {
		if isUniqueViolation(err, "referral_referred_uniq") {
			return referral.Referral{}, core.NewConflictError("student is already referred")
		}
		return referral.Referral{}, errors.Wrap(err, "claiming referral")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return referral.Referral{}, core.NewConflictError("referral code has already been claimed")
	}
	return repo.getBy(ctx, "id = $1", id)
}

// ApplyReward locks the referral row, re-reads it, and lets fn decide whether
// the reward fires. The flag, status and timestamp flip in the same
// transaction as the decision, so two concurrent triggers cannot both pass the
// check.
func (repo referralRepository) ApplyReward(ctx context.Context, id string, fn func(referral.Referral) (bool, error)) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var row referralRow
	if err = tx.GetContext(ctx, &row, `SELECT * FROM referral WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return referral.ErrNotFound
		}
		return errors.Wrap(err, "locking referral")
	}

	apply, err := fn(row.toReferral())
	if err != nil {
		return err
	}
	if !apply {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE referral SET reward_applied = TRUE, status = $1, applied_at = $2
		WHERE id = $3`,
		string(referral.StatusRewardApplied), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "flagging reward")
	}
	return errors.Wrap(tx.Commit(), "committing reward")
}
