package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/referral"
)

type referralRepository struct {
	db *DB
}

var _ referral.Repository = (*referralRepository)(nil) // interface compliance check

func NewReferralRepository(db *DB) *referralRepository {
	return &referralRepository{db: db}
}

func (repo *referralRepository) CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error) {
	repo.db.refMu.Lock()
	defer repo.db.refMu.Unlock()

	for _, existing := range repo.db.referrals {
		if existing.Code == r.Code {
			return referral.Referral{}, core.NewConflictError("referral code collision")
		}
	}
	r.ID = repo.db.nextPK()
	repo.db.referrals[r.ID] = &r
	return r, nil
}

func (repo *referralRepository) GetByCode(ctx context.Context, code string) (referral.Referral, error) {
	repo.db.refMu.Lock()
	defer repo.db.refMu.Unlock()
	for _, r := range repo.db.referrals {
		if r.Code == code {
			return *r, nil
		}
	}
	return referral.Referral{}, referral.ErrNotFound
}

func (repo *referralRepository) GetByReferrerID(ctx context.Context, referrerID string) ([]referral.Referral, error) {
	repo.db.refMu.Lock()
	defer repo.db.refMu.Unlock()

	var refs []referral.Referral
	for _, r := range repo.db.referrals {
		if r.ReferrerID == referrerID {
			refs = append(refs, *r)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].CreatedAt.After(refs[j].CreatedAt) })
	return refs, nil
}

func (repo *referralRepository) GetByReferredID(ctx context.Context, referredID string) (referral.Referral, error) {
	repo.db.refMu.Lock()
	defer repo.db.refMu.Unlock()
	for _, r := range repo.db.referrals {
		if r.ReferredID == referredID {
			return *r, nil
		}
	}
	return referral.Referral{}, referral.ErrNotFound
}

func (repo *referralRepository) Claim(ctx context.Context, id, referredID string) (referral.Referral, error) {
	repo.db.refMu.Lock()
	defer repo.db.refMu.Unlock()

	r, ok := repo.db.referrals[id]
	if !ok {
		return referral.Referral{}, referral.ErrNotFound
	}
	if r.ReferredID != "" {
		return referral.Referral{}, core.NewConflictError("referral code has already been claimed")
	}
	r.ReferredID = referredID
	r.Status = referral.StatusRewardPending
	return *r, nil
}

func (repo *referralRepository) ApplyReward(ctx context.Context, id string, fn func(referral.Referral) (bool, error)) error {
	// the table lock plays the role of the row lock; the callback may read
	// other tables freely since they live behind the shared lock
	repo.db.refMu.Lock()
	defer repo.db.refMu.Unlock()

	r, ok := repo.db.referrals[id]
	if !ok {
		return referral.ErrNotFound
	}
	apply, err := fn(*r)
	if err != nil {
		return err
	}
	if apply {
		r.RewardApplied = true
		r.Status = referral.StatusRewardApplied
		r.AppliedAt = time.Now().UTC()
	}
	return nil
}
