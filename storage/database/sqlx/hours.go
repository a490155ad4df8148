package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/classhour/backend/core/hours"
)

type hourRecordRow struct {
	ID            string          `db:"id"`
	StudentID     string          `db:"student_id"`
	ParentID      string          `db:"parent_id"`
	TutorID       string          `db:"tutor_id"`
	Date          time.Time       `db:"date"`
	StartsAt      time.Time       `db:"starts_at"`
	EndsAt        time.Time       `db:"ends_at"`
	Duration      decimal.Decimal `db:"duration"`
	Channel       string          `db:"channel"`
	Subject       string          `db:"subject"`
	Notes         string          `db:"notes"`
	Status        string          `db:"status"`
	Eligibility   string          `db:"eligibility"`
	InvoiceStatus string          `db:"invoice_status"`
	TutorReply    string          `db:"tutor_reply"`
	Edits         []byte          `db:"edits"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r hourRecordRow) toRecord() (hours.HourRecord, error) {
	var edits []hours.Edit
	if len(r.Edits) > 0 {
		if err := json.Unmarshal(r.Edits, &edits); err != nil {
			return hours.HourRecord{}, errors.Wrap(err, "decoding edit history")
		}
	}
	return hours.HourRecord{
		ID:            r.ID,
		StudentID:     r.StudentID,
		ParentID:      r.ParentID,
		TutorID:       r.TutorID,
		Date:          r.Date,
		StartsAt:      r.StartsAt,
		EndsAt:        r.EndsAt,
		Duration:      r.Duration,
		Channel:       hours.Channel(r.Channel),
		Subject:       r.Subject,
		Notes:         r.Notes,
		Status:        hours.Status(r.Status),
		Eligibility:   hours.Eligibility(r.Eligibility),
		InvoiceStatus: hours.InvoiceStatus(r.InvoiceStatus),
		TutorReply:    r.TutorReply,
		Edits:         edits,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func fromRecord(rec hours.HourRecord) (hourRecordRow, error) {
	edits, err := json.Marshal(rec.Edits)
	if err != nil {
		return hourRecordRow{}, errors.Wrap(err, "encoding edit history")
	}
	if rec.Edits == nil {
		edits = []byte("[]")
	}
	return hourRecordRow{
		ID:            rec.ID,
		StudentID:     rec.StudentID,
		ParentID:      rec.ParentID,
		TutorID:       rec.TutorID,
		Date:          rec.Date,
		StartsAt:      rec.StartsAt,
		EndsAt:        rec.EndsAt,
		Duration:      rec.Duration,
		Channel:       string(rec.Channel),
		Subject:       rec.Subject,
		Notes:         rec.Notes,
		Status:        string(rec.Status),
		Eligibility:   string(rec.Eligibility),
		InvoiceStatus: string(rec.InvoiceStatus),
		TutorReply:    rec.TutorReply,
		Edits:         edits,
		CreatedAt:     rec.CreatedAt.UTC(),
		UpdatedAt:     rec.UpdatedAt.UTC(),
	}, nil
}

type hourRepository struct {
	db *sqlx.DB
}

var _ hours.Repository = (*hourRepository)(nil) // interface compliance check

func NewHourRepository(db *sqlx.DB) *hourRepository {
	return &hourRepository{db: db}
}

func (repo hourRepository) CreateHourRecord(ctx context.Context, rec hours.HourRecord) (hours.HourRecord, error) {
	rec.ID = uuid.New().String()
	row, err := fromRecord(rec)
	if err != nil {
		return hours.HourRecord{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO hour_record (
			id, student_id, parent_id, tutor_id, date, starts_at, ends_at,
			duration, channel, subject, notes, status, eligibility,
			invoice_status, tutor_reply, edits, created_at, updated_at
		) VALUES (
			:id, :student_id, :parent_id, :tutor_id, :date, :starts_at, :ends_at,
			:duration, :channel, :subject, :notes, :status, :eligibility,
			:invoice_status, :tutor_reply, :edits, :created_at, :updated_at
		)`, row)
	if err != nil {
		if isUniqueViolation(err, "hour_record_session_uniq") {
			return hours.HourRecord{}, hours.ErrDuplicate
		}
		return hours.HourRecord{}, errors.Wrap(err, "inserting hour record")
	}
	return rec, nil
}

func (repo hourRepository) GetHourRecord(ctx context.Context, id string) (hours.HourRecord, error) {
	var row hourRecordRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM hour_record WHERE id = $1`, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return hours.HourRecord{}, hours.ErrNotFound
		}
		return hours.HourRecord{}, errors.Wrap(err, "getting hour record")
	}
	return row.toRecord()
}

func (repo hourRepository) UpdateHourRecord(ctx context.Context, rec hours.HourRecord) (hours.HourRecord, error) {
	row, err := fromRecord(rec)
	if err != nil {
		return hours.HourRecord{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE hour_record SET
			date = :date, starts_at = :starts_at, ends_at = :ends_at,
			duration = :duration, channel = :channel, subject = :subject,
			notes = :notes, status = :status, eligibility = :eligibility,
			invoice_status = :invoice_status, tutor_reply = :tutor_reply,
			edits = :edits, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		if isUniqueViolation(err, "hour_record_session_uniq") {
			return hours.HourRecord{}, hours.ErrDuplicate
		}
		return hours.HourRecord{}, errors.Wrap(err, "updating hour record")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return hours.HourRecord{}, hours.ErrNotFound
	}
	return rec, nil
}

func (repo hourRepository) DeleteHourRecord(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM hour_record WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting hour record")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return hours.ErrNotFound
	}
	return nil
}

func (repo hourRepository) FilterHourRecords(ctx context.Context, filter hours.QueryFilter) ([]hours.HourRecord, error) {
	query := `SELECT * FROM hour_record WHERE 1=1`
	var args []interface{}
	n := 0
	next := func(v interface{}) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if filter.TutorID != "" {
		query += ` AND tutor_id = ` + next(filter.TutorID)
	}
	if filter.StudentID != "" {
		query += ` AND student_id = ` + next(filter.StudentID)
	}
	if filter.ParentID != "" {
		query += ` AND parent_id = ` + next(filter.ParentID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + next(string(filter.Status))
	}
	if filter.InvoiceStatus != "" {
		query += ` AND invoice_status = ` + next(string(filter.InvoiceStatus))
	}
	if !filter.From.IsZero() {
		query += ` AND date >= ` + next(filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND date <= ` + next(filter.To)
	}
	query += ` ORDER BY date, starts_at`

	var rows []hourRecordRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering hour records")
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

func (repo hourRepository) AcceptedHoursTotal(ctx context.Context, studentID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := repo.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(duration), 0)
		FROM hour_record
		WHERE student_id = $1 AND status IN ($2, $3)`,
		studentID, string(hours.StatusAccepted), string(hours.StatusResolved))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "summing accepted hours")
	}
	return total, nil
}

type disputeRow struct {
	ID           string    `db:"id"`
	HourRecordID string    `db:"hour_record_id"`
	RaisedByID   string    `db:"raised_by_id"`
	Reason       string    `db:"reason"`
	Status       string    `db:"status"`
	AdminReply   string    `db:"admin_reply"`
	ResolvedByID string    `db:"resolved_by_id"`
	ResolvedAt   null.Time `db:"resolved_at"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r disputeRow) toDispute() hours.Dispute {
	return hours.Dispute{
		ID:           r.ID,
		HourRecordID: r.HourRecordID,
		RaisedByID:   r.RaisedByID,
		Reason:       r.Reason,
		Status:       hours.DisputeStatus(r.Status),
		AdminReply:   r.AdminReply,
		ResolvedByID: r.ResolvedByID,
		ResolvedAt:   r.ResolvedAt.Time,
		CreatedAt:    r.CreatedAt,
	}
}

func fromDispute(d hours.Dispute) disputeRow {
	return disputeRow{
		ID:           d.ID,
		HourRecordID: d.HourRecordID,
		RaisedByID:   d.RaisedByID,
		Reason:       d.Reason,
		Status:       string(d.Status),
		AdminReply:   d.AdminReply,
		ResolvedByID: d.ResolvedByID,
		ResolvedAt:   null.NewTime(d.ResolvedAt.UTC(), !d.ResolvedAt.IsZero()),
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

func (repo hourRepository) CreateDispute(ctx context.Context, d hours.Dispute) (hours.Dispute, error) {
	d.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO dispute (
			id, hour_record_id, raised_by_id, reason, status, admin_reply,
			resolved_by_id, resolved_at, created_at
		) VALUES (
			:id, :hour_record_id, :raised_by_id, :reason, :status, :admin_reply,
			:resolved_by_id, :resolved_at, :created_at
		)`, fromDispute(d))
	if err != nil {
		return hours.Dispute{}, errors.Wrap(err, "inserting dispute")
	}
	return d, nil
}

func (repo hourRepository) GetDispute(ctx context.Context, id string) (hours.Dispute, error) {
	var row disputeRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM dispute WHERE id = $1`, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return hours.Dispute{}, hours.ErrDisputeNotFound
		}
		return hours.Dispute{}, errors.Wrap(err, "getting dispute")
	}
	return row.toDispute(), nil
}

func (repo hourRepository) UpdateDispute(ctx context.Context, d hours.Dispute) (hours.Dispute, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE dispute SET
			status = :status, admin_reply = :admin_reply,
			resolved_by_id = :resolved_by_id, resolved_at = :resolved_at
		WHERE id = :id`, fromDispute(d))
	if err != nil {
		return hours.Dispute{}, errors.Wrap(err, "updating dispute")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return hours.Dispute{}, hours.ErrDisputeNotFound
	}
	return d, nil
}
