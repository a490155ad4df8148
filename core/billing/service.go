package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/user"
)

var ErrDuplicateWindow = core.NewConflictError("an aggregate already covers this window")

// provider calls get a short bounded retry on transient failures; the
// background queue adds its own retries on top.
const (
	providerAttempts = 3
	providerBackoff  = time.Second
)

type (
	Repository interface {
		// PendingInvoiceHours selects un-invoiced, billable records
		// (invoice_status=pending, eligibility eligible|late) in [start, end].
		PendingInvoiceHours(ctx context.Context, start, end time.Time) ([]hours.HourRecord, error)
		// PayableHours selects records payable to tutors
		// (status accepted|resolved) in [start, end].
		PayableHours(ctx context.Context, start, end time.Time) ([]hours.HourRecord, error)
		// CreateAggregate returns ErrDuplicateWindow when an aggregate of the
		// same kind for the same party overlaps [Start, End].
		CreateAggregate(ctx context.Context, agg Aggregate) (Aggregate, error)
		// MarkInvoiced persists the invoice row and flips invoice_status on
		// the party's records in one local transaction, so a crash mid-batch
		// leaves at most one party ambiguous.
		MarkInvoiced(ctx context.Context, inv Invoice, recordIDs []string) (Invoice, error)
		HasPayout(ctx context.Context, tutorID string, start, end time.Time) (bool, error)
		CreatePayout(ctx context.Context, p Payout) (Payout, error)
	}

	Service struct {
		repo   Repository
		users  *user.Service
		pay    core.PaymentService
		conf   *core.Config
		logger core.Logger
	}
)

func NewService(repo Repository, users *user.Service, pay core.PaymentService, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		pay:    pay,
		conf:   conf,
		logger: logger,
	}
}

// AggregateForInvoicing sums pending billable hours per parent over
// [start, end], splitting by channel and pricing with the parent's rates.
// Parents with a zero total are excluded. Read-only.
func (svc *Service) AggregateForInvoicing(ctx context.Context, start, end time.Time) ([]PartyTotal, error) {
	recs, err := svc.repo.PendingInvoiceHours(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "loading pending hours")
	}
	return svc.aggregate(ctx, recs, func(rec hours.HourRecord) string { return rec.ParentID })
}

// AggregateForPayout sums accepted/resolved hours per tutor over [start, end],
// priced with the tutor's rates.
func (svc *Service) AggregateForPayout(ctx context.Context, start, end time.Time) ([]PartyTotal, error) {
	recs, err := svc.repo.PayableHours(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "loading payable hours")
	}
	return svc.aggregate(ctx, recs, func(rec hours.HourRecord) string { return rec.TutorID })
}

func (svc *Service) aggregate(ctx context.Context, recs []hours.HourRecord, partyOf func(hours.HourRecord) string) ([]PartyTotal, error) {
	byParty := make(map[string]*PartyTotal)
	for _, rec := range recs {
		party := partyOf(rec)
		pt, ok := byParty[party]
		if !ok {
			pt = &PartyTotal{
				PartyID:       party,
				OnlineHours:   decimal.Zero,
				InPersonHours: decimal.Zero,
				Total:         decimal.Zero,
			}
			byParty[party] = pt
		}
		switch rec.Channel {
		case hours.ChannelInPerson:
			pt.InPersonHours = pt.InPersonHours.Add(rec.Duration)
		default: // online is the default channel when unset
			pt.OnlineHours = pt.OnlineHours.Add(rec.Duration)
		}
		pt.RecordIDs = append(pt.RecordIDs, rec.ID)
	}

	// rates are read once per call, not per row
	ids := make([]string, 0, len(byParty))
	for id := range byParty {
		ids = append(ids, id)
	}
	rates, err := svc.users.RatesByID(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "loading rates")
	}

	totals := make([]PartyTotal, 0, len(byParty))
	for id, pt := range byParty {
		rate := rates[id]
		pt.Total = pt.OnlineHours.Mul(rate.Online).Add(pt.InPersonHours.Mul(rate.InPerson))
		if !pt.Total.IsPositive() {
			continue
		}
		totals = append(totals, *pt)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].PartyID < totals[j].PartyID })
	return totals, nil
}

// CommitAggregates persists one write-once aggregate per party for the
// window. A party whose window is already covered is reported as a duplicate,
// not an error, and no second row is created.
func (svc *Service) CommitAggregates(ctx context.Context, kind AggregateKind, start, end time.Time) (CommitResult, error) {
	var totals []PartyTotal
	var err error
	if kind == KindWeekly {
		totals, err = svc.AggregateForInvoicing(ctx, start, end)
	} else {
		totals, err = svc.AggregateForPayout(ctx, start, end)
	}
	if err != nil {
		return CommitResult{}, err
	}

	var res CommitResult
	for _, pt := range totals {
		agg := Aggregate{
			PartyID:       pt.PartyID,
			Kind:          kind,
			Start:         start,
			End:           end,
			OnlineHours:   pt.OnlineHours,
			InPersonHours: pt.InPersonHours,
			Total:         pt.Total,
			CreatedAt:     time.Now().UTC(),
		}
		created, err := svc.repo.CreateAggregate(ctx, agg)
		if err != nil {
			if core.IsConflict(err) {
				res.Duplicates = append(res.Duplicates, pt.PartyID)
				continue
			}
			return res, errors.Wrapf(err, "committing aggregate for %s", pt.PartyID)
		}
		res.Created = append(res.Created, created)
	}
	return res, nil
}

// RunInvoiceBatch charges every parent with a positive total for the window.
// Parties are processed in bounded chunks; each party's outcome is recorded
// independently and the invoice_status flip happens in the same local
// transaction as the invoice row, keyed to the accepted charge.
func (svc *Service) RunInvoiceBatch(ctx context.Context, start, end time.Time) (BatchResult, error) {
	totals, err := svc.AggregateForInvoicing(ctx, start, end)
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	chunkSize := svc.conf.Billing.ChargeChunkSize
	for chunkStart := 0; chunkStart < len(totals); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(totals) {
			chunkEnd = len(totals)
		}
		for _, pt := range totals[chunkStart:chunkEnd] {
			if err := svc.invoiceParty(ctx, pt, start, end); err != nil {
				svc.logger.Error("invoicing "+pt.PartyID, err)
				res.Errors = append(res.Errors, BatchError{PartyID: pt.PartyID, Reason: err.Error()})
				continue
			}
			res.Succeeded = append(res.Succeeded, pt.PartyID)
		}
	}
	return res, nil
}

func (svc *Service) invoiceParty(ctx context.Context, pt PartyTotal, start, end time.Time) error {
	parent, err := svc.users.GetByID(ctx, pt.PartyID)
	if err != nil {
		return errors.Wrap(err, "resolving parent")
	}

	customerID, err := svc.resolveCustomer(ctx, parent)
	if err != nil {
		return err
	}

	// the idempotency key ties the charge to this party+window, so a crash
	// between charge and status flip cannot double-bill on retry
	idemKey := batchKey("invoice", pt.PartyID, start, end)
	var chargeID string
	err = core.Retry(ctx, providerAttempts, providerBackoff, func() error {
		var cerr error
		chargeID, cerr = svc.pay.CreateCharge(ctx, core.ChargeRequest{
			CustomerID:     customerID,
			AmountMinor:    toMinorUnits(pt.Total),
			Currency:       svc.conf.Billing.Currency,
			Description:    fmt.Sprintf("Tutoring %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
			IdempotencyKey: idemKey,
		})
		return cerr
	})
	if err != nil {
		return errors.Wrap(err, "creating charge")
	}

	inv := Invoice{
		ParentID:  pt.PartyID,
		Start:     start,
		End:       end,
		ChargeID:  chargeID,
		Amount:    pt.Total,
		CreatedAt: time.Now().UTC(),
	}
	if _, err = svc.repo.MarkInvoiced(ctx, inv, pt.RecordIDs); err != nil {
		return errors.Wrap(err, "marking records invoiced")
	}
	return nil
}

// RunPayoutBatch transfers each tutor's total for the window. Tutors without
// a payout account and windows already paid are skipped, not failed.
func (svc *Service) RunPayoutBatch(ctx context.Context, start, end time.Time) (BatchResult, error) {
	totals, err := svc.AggregateForPayout(ctx, start, end)
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	chunkSize := svc.conf.Billing.ChargeChunkSize
	for chunkStart := 0; chunkStart < len(totals); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(totals) {
			chunkEnd = len(totals)
		}
		for _, pt := range totals[chunkStart:chunkEnd] {
			skipped, err := svc.payParty(ctx, pt, start, end)
			if err != nil {
				svc.logger.Error("paying "+pt.PartyID, err)
				res.Errors = append(res.Errors, BatchError{PartyID: pt.PartyID, Reason: err.Error()})
				continue
			}
			if skipped {
				res.Skipped = append(res.Skipped, pt.PartyID)
				continue
			}
			res.Succeeded = append(res.Succeeded, pt.PartyID)
		}
	}
	return res, nil
}

func (svc *Service) payParty(ctx context.Context, pt PartyTotal, start, end time.Time) (skipped bool, err error) {
	paid, err := svc.repo.HasPayout(ctx, pt.PartyID, start, end)
	if err != nil {
		return false, errors.Wrap(err, "checking prior payout")
	}
	if paid {
		return true, nil
	}

	tutor, err := svc.users.GetByID(ctx, pt.PartyID)
	if err != nil {
		return false, errors.Wrap(err, "resolving tutor")
	}
	if tutor.PayoutAccountID == "" {
		return true, nil
	}

	idemKey := batchKey("payout", pt.PartyID, start, end)
	var transferID string
	err = core.Retry(ctx, providerAttempts, providerBackoff, func() error {
		var terr error
		transferID, terr = svc.pay.CreateTransfer(ctx, core.TransferRequest{
			AccountID:      tutor.PayoutAccountID,
			AmountMinor:    toMinorUnits(pt.Total),
			Currency:       svc.conf.Billing.Currency,
			Description:    fmt.Sprintf("Tutoring payout %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
			IdempotencyKey: idemKey,
			Metadata: map[string]string{
				"tutor_id":     pt.PartyID,
				"window_start": start.Format("2006-01-02"),
				"window_end":   end.Format("2006-01-02"),
			},
		})
		return terr
	})
	if err != nil {
		return false, errors.Wrap(err, "creating transfer")
	}

	_, err = svc.repo.CreatePayout(ctx, Payout{
		TutorID:    pt.PartyID,
		Start:      start,
		End:        end,
		TransferID: transferID,
		Amount:     pt.Total,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return false, errors.Wrap(err, "recording payout")
	}
	return false, nil
}

// resolveCustomer returns the parent's billing customer id, creating it at the
// processor (lookup by contact email, create on miss) and persisting it back
// on first use.
func (svc *Service) resolveCustomer(ctx context.Context, parent user.User) (string, error) {
	if parent.CustomerID != "" {
		return parent.CustomerID, nil
	}

	var customerID string
	err := core.Retry(ctx, providerAttempts, providerBackoff, func() error {
		var cerr error
		customerID, cerr = svc.pay.CreateOrFindCustomer(ctx, parent.Email, parent.Name)
		return cerr
	})
	if err != nil {
		return "", errors.Wrap(err, "resolving billing customer")
	}
	if err = svc.users.SetCustomerID(ctx, parent.ID, customerID); err != nil {
		return "", errors.Wrap(err, "persisting customer id")
	}
	return customerID, nil
}

func toMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func batchKey(op, partyID string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", op, partyID, start.Format("2006-01-02"), end.Format("2006-01-02"))
}
