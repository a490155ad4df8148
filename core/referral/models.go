package referral

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	// StatusCreated: code generated, nobody signed up with it yet.
	// StatusRewardPending: the referred student signed up; hours accumulating.
	// StatusRewardApplied: the credit has been issued; terminal.
	StatusCreated       Status = "created"
	StatusRewardPending Status = "reward_pending"
	StatusRewardApplied Status = "reward_applied"
)

type Referral struct {
	ID            string          `json:"id"`
	ReferrerID    string          `json:"referrer_id"`
	ReferredID    string          `json:"referred_id,omitempty"`
	Code          string          `json:"code"`
	Status        Status          `json:"status"`
	RewardApplied bool            `json:"reward_applied"`
	RewardAmount  decimal.Decimal `json:"reward_amount"`
	CreatedAt     time.Time       `json:"created_at"` // UTC
	AppliedAt     time.Time       `json:"applied_at,omitempty"`
}
