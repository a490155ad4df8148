package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/hours"
)

type billingRepository struct {
	db *sqlx.DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *sqlx.DB) *billingRepository {
	return &billingRepository{db: db}
}

func (repo billingRepository) PendingInvoiceHours(ctx context.Context, start, end time.Time) ([]hours.HourRecord, error) {
	return repo.selectRecords(ctx, `
		SELECT * FROM hour_record
		WHERE invoice_status = $1
		  AND eligibility IN ($2, $3)
		  AND date BETWEEN $4 AND $5
		ORDER BY date, starts_at`,
		string(hours.InvoicePending),
		string(hours.EligibilityEligible), string(hours.EligibilityLate),
		start, end)
}

func (repo billingRepository) PayableHours(ctx context.Context, start, end time.Time) ([]hours.HourRecord, error) {
	return repo.selectRecords(ctx, `
		SELECT * FROM hour_record
		WHERE status IN ($1, $2)
		  AND date BETWEEN $3 AND $4
		ORDER BY date, starts_at`,
		string(hours.StatusAccepted), string(hours.StatusResolved),
		start, end)
}

func (repo billingRepository) selectRecords(ctx context.Context, query string, args ...interface{}) ([]hours.HourRecord, error) {
	var rows []hourRecordRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting hour records")
	}
	recs := make([]hours.HourRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (repo billingRepository) CreateAggregate(ctx context.Context, agg billing.Aggregate) (billing.Aggregate, error) {
	agg.ID = uuid.New().String()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return billing.Aggregate{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// overlap guard: any same-kind aggregate for the party whose window
	// intersects [start, end] blocks the insert, not just exact duplicates
	var overlaps bool
	err = tx.GetContext(ctx, &overlaps, `
		SELECT EXISTS (
			SELECT 1 FROM aggregate
			WHERE party_id = $1 AND kind = $2
			  AND start_date <= $3 AND end_date >= $4
		)`, agg.PartyID, string(agg.Kind), agg.End, agg.Start)
	if err != nil {
		return billing.Aggregate{}, errors.Wrap(err, "checking window overlap")
	}
	if overlaps {
		return billing.Aggregate{}, billing.ErrDuplicateWindow
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO aggregate (
			id, party_id, kind, start_date, end_date,
			online_hours, in_person_hours, total, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		agg.ID, agg.PartyID, string(agg.Kind), agg.Start, agg.End,
		agg.OnlineHours, agg.InPersonHours, agg.Total, agg.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "aggregate_window_uniq") {
			return billing.Aggregate{}, billing.ErrDuplicateWindow
		}
		return billing.Aggregate{}, errors.Wrap(err, "inserting aggregate")
	}
	if err = tx.Commit(); err != nil {
		return billing.Aggregate{}, errors.Wrap(err, "committing aggregate")
	}
	return agg, nil
}

func (repo billingRepository) MarkInvoiced(ctx context.Context, inv billing.Invoice, recordIDs []string) (billing.Invoice, error) {
	inv.ID = uuid.New().String()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return billing.Invoice{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoice (id, parent_id, start_date, end_date, charge_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.ParentID, inv.Start, inv.End, inv.ChargeID, inv.Amount, inv.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "invoice_window_uniq") {
			return billing.Invoice{}, billing.ErrDuplicateWindow
		}
		return billing.Invoice{}, errors.Wrap(err, "inserting invoice")
	}

	if len(recordIDs) > 0 {
		query, args, err := sqlx.In(
			`UPDATE hour_record SET invoice_status = ? WHERE id IN (?)`,
			string(hours.InvoiceInvoiced), recordIDs)
		if err != nil {
			return billing.Invoice{}, errors.Wrap(err, "building invoice flip query")
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return billing.Invoice{}, errors.Wrap(err, "flipping invoice status")
		}
	}

	if err = tx.Commit(); err != nil {
		return billing.Invoice{}, errors.Wrap(err, "committing invoice")
	}
	return inv, nil
}

func (repo billingRepository) HasPayout(ctx context.Context, tutorID string, start, end time.Time) (bool, error) {
	var exists bool
	err := repo.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM payout
			WHERE tutor_id = $1 AND start_date = $2 AND end_date = $3
		)`, tutorID, start, end)
	return exists, errors.Wrap(err, "checking prior payout")
}

func (repo billingRepository) CreatePayout(ctx context.Context, p billing.Payout) (billing.Payout, error) {
	p.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO payout (id, tutor_id, start_date, end_date, transfer_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.TutorID, p.Start, p.End, p.TransferID, p.Amount, p.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "payout_window_uniq") {
			return billing.Payout{}, billing.ErrDuplicateWindow
		}
		return billing.Payout{}, errors.Wrap(err, "inserting payout")
	}
	return p, nil
}
