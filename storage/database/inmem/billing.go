package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/hours"
)

type billingRepository struct {
	db *DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *DB) *billingRepository {
	return &billingRepository{db: db}
}

func inWindow(rec hours.HourRecord, start, end time.Time) bool {
	return !rec.Date.Before(start) && !rec.Date.After(end)
}

func (repo *billingRepository) PendingInvoiceHours(ctx context.Context, start, end time.Time) ([]hours.HourRecord, error) {
	return repo.selectRecords(start, end, func(rec hours.HourRecord) bool {
		return rec.InvoiceStatus == hours.InvoicePending &&
			(rec.Eligibility == hours.EligibilityEligible || rec.Eligibility == hours.EligibilityLate)
	})
}

func (repo *billingRepository) PayableHours(ctx context.Context, start, end time.Time) ([]hours.HourRecord, error) {
	return repo.selectRecords(start, end, func(rec hours.HourRecord) bool {
		return rec.Status == hours.StatusAccepted || rec.Status == hours.StatusResolved
	})
}

func (repo *billingRepository) selectRecords(start, end time.Time, match func(hours.HourRecord) bool) ([]hours.HourRecord, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var recs []hours.HourRecord
	for _, rec := range repo.db.records {
		if inWindow(*rec, start, end) && match(*rec) {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date.Equal(recs[j].Date) {
			return recs[i].StartsAt.Before(recs[j].StartsAt)
		}
		return recs[i].Date.Before(recs[j].Date)
	})
	return recs, nil
}

func (repo *billingRepository) CreateAggregate(ctx context.Context, agg billing.Aggregate) (billing.Aggregate, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, existing := range repo.db.aggregates {
		if existing.PartyID == agg.PartyID && existing.Kind == agg.Kind &&
			!existing.Start.After(agg.End) && !existing.End.Before(agg.Start) {
			return billing.Aggregate{}, billing.ErrDuplicateWindow
		}
	}
	agg.ID = repo.db.nextPK()
	repo.db.aggregates[agg.ID] = &agg
	return agg, nil
}

func (repo *billingRepository) MarkInvoiced(ctx context.Context, inv billing.Invoice, recordIDs []string) (billing.Invoice, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, existing := range repo.db.invoices {
		if existing.ParentID == inv.ParentID && existing.Start.Equal(inv.Start) && existing.End.Equal(inv.End) {
			return billing.Invoice{}, billing.ErrDuplicateWindow
		}
	}
	inv.ID = repo.db.nextPK()
	repo.db.invoices[inv.ID] = &inv
	for _, id := range recordIDs {
		if rec, ok := repo.db.records[id]; ok {
			rec.InvoiceStatus = hours.InvoiceInvoiced
		}
	}
	return inv, nil
}

func (repo *billingRepository) HasPayout(ctx context.Context, tutorID string, start, end time.Time) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	for _, p := range repo.db.payouts {
		if p.TutorID == tutorID && p.Start.Equal(start) && p.End.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

func (repo *billingRepository) CreatePayout(ctx context.Context, p billing.Payout) (billing.Payout, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, existing := range repo.db.payouts {
		if existing.TutorID == p.TutorID && existing.Start.Equal(p.Start) && existing.End.Equal(p.End) {
			return billing.Payout{}, billing.ErrDuplicateWindow
		}
	}
	p.ID = repo.db.nextPK()
	repo.db.payouts[p.ID] = &p
	return p, nil
}
