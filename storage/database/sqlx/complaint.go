package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/classhour/backend/core/complaint"
)

type complaintRow struct {
	ID           string    `db:"id"`
	TutorID      string    `db:"tutor_id"`
	RaisedByID   string    `db:"raised_by_id"`
	Text         string    `db:"text"`
	Status       string    `db:"status"`
	AdminReply   string    `db:"admin_reply"`
	ReviewedByID string    `db:"reviewed_by_id"`
	ReviewedAt   null.Time `db:"reviewed_at"`
	ResolvedByID string    `db:"resolved_by_id"`
	ResolvedAt   null.Time `db:"resolved_at"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r complaintRow) toComplaint() complaint.Complaint {
	return complaint.Complaint{
		ID:           r.ID,
		TutorID:      r.TutorID,
		RaisedByID:   r.RaisedByID,
		Text:         r.Text,
		Status:       complaint.Status(r.Status),
		AdminReply:   r.AdminReply,
		ReviewedByID: r.ReviewedByID,
		ReviewedAt:   r.ReviewedAt.Time,
		ResolvedByID: r.ResolvedByID,
		ResolvedAt:   r.ResolvedAt.Time,
		CreatedAt:    r.CreatedAt,
	}
}

func fromComplaint(c complaint.Complaint) complaintRow {
	return complaintRow{
		ID:           c.ID,
		TutorID:      c.TutorID,
		RaisedByID:   c.RaisedByID,
		Text:         c.Text,
		Status:       string(c.Status),
		AdminReply:   c.AdminReply,
		ReviewedByID: c.ReviewedByID,
		ReviewedAt:   null.NewTime(c.ReviewedAt.UTC(), !c.ReviewedAt.IsZero()),
		ResolvedByID: c.ResolvedByID,
		ResolvedAt:   null.NewTime(c.ResolvedAt.UTC(), !c.ResolvedAt.IsZero()),
		CreatedAt:    c.CreatedAt.UTC(),
	}
}

type complaintRepository struct {
	db *sqlx.DB
}

var _ complaint.Repository = (*complaintRepository)(nil) // interface compliance check

func NewComplaintRepository(db *sqlx.DB) *complaintRepository {
	return &complaintRepository{db: db}
}

func (repo complaintRepository) CreateComplaint(ctx context.Context, c complaint.Complaint) (complaint.Complaint, error) {
	c.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO complaint (
			id, tutor_id, raised_by_id, text, status, admin_reply,
			reviewed_by_id, reviewed_at, resolved_by_id, resolved_at, created_at
		) VALUES (
			:id, :tutor_id, :raised_by_id, :text, :status, :admin_reply,
			:reviewed_by_id, :reviewed_at, :resolved_by_id, :resolved_at, :created_at
		)`, fromComplaint(c))
	if err != nil {
		return complaint.Complaint{}, errors.Wrap(err, "inserting complaint")
	}
	return c, nil
}

func (repo complaintRepository) GetComplaint(ctx context.Context, id string) (complaint.Complaint, error) {
	var row complaintRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM complaint WHERE id = $1`, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return complaint.Complaint{}, complaint.ErrNotFound
		}
		return complaint.Complaint{}, errors.Wrap(err, "getting complaint")
	}
	return row.toComplaint(), nil
}

func (repo complaintRepository) UpdateComplaint(ctx context.Context, c complaint.Complaint) (complaint.Complaint, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE complaint SET
			status = :status, admin_reply = :admin_reply,
			reviewed_by_id = :reviewed_by_id, reviewed_at = :reviewed_at,
			resolved_by_id = :resolved_by_id, resolved_at = :resolved_at
		WHERE id = :id`, fromComplaint(c))
	if err != nil {
		return complaint.Complaint{}, errors.Wrap(err, "updating complaint")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return complaint.Complaint{}, complaint.ErrNotFound
	}
	return c, nil
}

func (repo complaintRepository) FilterComplaints(ctx context.Context, tutorID string, status complaint.Status) ([]complaint.Complaint, error) {
	query := `SELECT * FROM complaint WHERE 1=1`
	var args []interface{}
	n := 0
	next := func(v interface{}) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}
	if tutorID != "" {
		query += ` AND tutor_id = ` + next(tutorID)
	}
	if status != "" {
		query += ` AND status = ` + next(string(status))
	}
	query += ` ORDER BY created_at DESC`

	var rows []complaintRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering complaints")
	}
	cs := make([]complaint.Complaint, 0, len(rows))
	for _, r := range rows {
		cs = append(cs, r.toComplaint())
	}
	return cs, nil
}
