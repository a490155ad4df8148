package inmemdb

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core/hours"
)

type hourRepository struct {
	db *DB
}

var _ hours.Repository = (*hourRepository)(nil) // interface compliance check

func NewHourRepository(db *DB) *hourRepository {
	return &hourRepository{db: db}
}

func sameSession(a, b hours.HourRecord) bool {
	return a.TutorID == b.TutorID &&
		a.StudentID == b.StudentID &&
		a.Date.Equal(b.Date) &&
		a.StartsAt.Equal(b.StartsAt) &&
		a.EndsAt.Equal(b.EndsAt)
}

func (repo *hourRepository) CreateHourRecord(ctx context.Context, rec hours.HourRecord) (hours.HourRecord, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, existing := range repo.db.records {
		if sameSession(*existing, rec) {
			return hours.HourRecord{}, hours.ErrDuplicate
		}
	}
	rec.ID = repo.db.nextPK()
	repo.db.records[rec.ID] = &rec
	return rec, nil
}

func (repo *hourRepository) GetHourRecord(ctx context.Context, id string) (hours.HourRecord, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if rec, ok := repo.db.records[id]; ok {
		return *rec, nil
	}
	return hours.HourRecord{}, hours.ErrNotFound
}

func (repo *hourRepository) UpdateHourRecord(ctx context.Context, rec hours.HourRecord) (hours.HourRecord, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.records[rec.ID]; !ok {
		return hours.HourRecord{}, hours.ErrNotFound
	}
	for id, existing := range repo.db.records {
		if id != rec.ID && sameSession(*existing, rec) {
			return hours.HourRecord{}, hours.ErrDuplicate
		}
	}
	repo.db.records[rec.ID] = &rec
	return rec, nil
}

func (repo *hourRepository) DeleteHourRecord(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	if _, ok := repo.db.records[id]; !ok {
		return hours.ErrNotFound
	}
	delete(repo.db.records, id)
	return nil
}

func (repo *hourRepository) FilterHourRecords(ctx context.Context, filter hours.QueryFilter) ([]hours.HourRecord, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var recs []hours.HourRecord
	for _, rec := range repo.db.records {
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
		if filter.InvoiceStatus != "" && rec.InvoiceStatus != filter.InvoiceStatus {
			continue
		}
		if !filter.From.IsZero() && rec.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.Date.After(filter.To) {
			continue
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date.Equal(recs[j].Date) {
			return recs[i].StartsAt.Before(recs[j].StartsAt)
		}
		return recs[i].Date.Before(recs[j].Date)
	})
	return recs, nil
}

func (repo *hourRepository) AcceptedHoursTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	total := decimal.Zero
	for _, rec := range repo.db.records {
		if rec.StudentID != studentID {
			continue
		}
		if rec.Status != hours.StatusAccepted && rec.Status != hours.StatusResolved {
			continue
		}
		total = total.Add(rec.Duration)
	}
	return total, nil
}

func (repo *hourRepository) CreateDispute(ctx context.Context, d hours.Dispute) (hours.Dispute, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	d.ID = repo.db.nextPK()
	repo.db.disputes[d.ID] = &d
	return d, nil
}

func (repo *hourRepository) GetDispute(ctx context.Context, id string) (hours.Dispute, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if d, ok := repo.db.disputes[id]; ok {
		return *d, nil
	}
	return hours.Dispute{}, hours.ErrDisputeNotFound
}

func (repo *hourRepository) UpdateDispute(ctx context.Context, d hours.Dispute) (hours.Dispute, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	if _, ok := repo.db.disputes[d.ID]; !ok {
		return hours.Dispute{}, hours.ErrDisputeNotFound
	}
	repo.db.disputes[d.ID] = &d
	return d, nil
}
