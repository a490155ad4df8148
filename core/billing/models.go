package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type AggregateKind string

const (
	// KindWeekly covers a parent invoicing window, KindMonthly a tutor payout
	// window.
	KindWeekly  AggregateKind = "weekly"
	KindMonthly AggregateKind = "monthly"
)

// Aggregate is a write-once audit snapshot of a party's summed totals for a
// date window. It is not re-derivable on demand: invoice_status mutates on the
// underlying records after billing.
type Aggregate struct {
	ID            string          `json:"id"`
	PartyID       string          `json:"party_id"`
	Kind          AggregateKind   `json:"kind"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	OnlineHours   decimal.Decimal `json:"online_hours"`
	InPersonHours decimal.Decimal `json:"in_person_hours"`
	Total         decimal.Decimal `json:"total"` // pre-tax
	CreatedAt     time.Time       `json:"created_at"`
}

// Invoice records one accepted charge against a parent for a window.
type Invoice struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	ChargeID  string          `json:"charge_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Payout records one accepted transfer to a tutor for a window. Its existence
// is the guard against paying the same window twice on a re-run.
type Payout struct {
	ID         string          `json:"id"`
	TutorID    string          `json:"tutor_id"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	TransferID string          `json:"transfer_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PartyTotal is one row of an aggregation run: per-channel hours and the
// pre-tax amount for a single billing party, with the records behind it.
type PartyTotal struct {
	PartyID       string          `json:"party_id"`
	OnlineHours   decimal.Decimal `json:"online_hours"`
	InPersonHours decimal.Decimal `json:"in_person_hours"`
	Total         decimal.Decimal `json:"total"`
	RecordIDs     []string        `json:"record_ids"`
}

// BatchError names the party a batch step failed for and why.
type BatchError struct {
	PartyID string `json:"party_id"`
	Reason  string `json:"reason"`
}

// BatchResult accumulates per-party outcomes; a single party's failure never
// aborts its siblings, and the caller re-drives only the failed subset.
type BatchResult struct {
	Succeeded []string     `json:"succeeded"`
	Skipped   []string     `json:"skipped"`
	Errors    []BatchError `json:"errors"`
}

// CommitResult reports persisted aggregates and the parties whose window was
// already covered by a prior aggregate.
type CommitResult struct {
	Created    []Aggregate `json:"created"`
	Duplicates []string    `json:"duplicates"`
}
