package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core/schedule"
)

type lessonRow struct {
	ID              string    `db:"id"`
	TutorID         string    `db:"tutor_id"`
	StudentID       string    `db:"student_id"`
	Subject         string    `db:"subject"`
	StartsAt        time.Time `db:"starts_at"`
	EndsAt          time.Time `db:"ends_at"`
	CalendarEventID string    `db:"calendar_event_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r lessonRow) toLesson() schedule.Lesson {
	return schedule.Lesson(r)
}

type scheduleRepository struct {
	db *sqlx.DB
}

var _ schedule.Repository = (*scheduleRepository)(nil) // interface compliance check

func NewScheduleRepository(db *sqlx.DB) *scheduleRepository {
	return &scheduleRepository{db: db}
}

func (repo scheduleRepository) CreateLesson(ctx context.Context, l schedule.Lesson) (schedule.Lesson, error) {
	l.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO lesson (
			id, tutor_id, student_id, subject, starts_at, ends_at,
			calendar_event_id, created_at, updated_at
		) VALUES (
			:id, :tutor_id, :student_id, :subject, :starts_at, :ends_at,
			:calendar_event_id, :created_at, :updated_at
		)`, lessonRow(l))
	if err != nil {
		return schedule.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return l, nil
}

func (repo scheduleRepository) GetLesson(ctx context.Context, id string) (schedule.Lesson, error) {
	var row lessonRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM lesson WHERE id = $1`, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return schedule.Lesson{}, schedule.ErrNotFound
		}
		return schedule.Lesson{}, errors.Wrap(err, "getting lesson")
	}
	return row.toLesson(), nil
}

func (repo scheduleRepository) UpdateLesson(ctx context.Context, l schedule.Lesson) (schedule.Lesson, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE lesson SET
			subject = :subject, starts_at = :starts_at, ends_at = :ends_at,
			calendar_event_id = :calendar_event_id, updated_at = :updated_at
		WHERE id = :id`, lessonRow(l))
	if err != nil {
		return schedule.Lesson{}, errors.Wrap(err, "updating lesson")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return schedule.Lesson{}, schedule.ErrNotFound
	}
	return l, nil
}

func (repo scheduleRepository) ListLessonsByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]schedule.Lesson, error) {
	query := `SELECT * FROM lesson WHERE tutor_id = $1`
	args := []interface{}{tutorID}
	if !from.IsZero() {
		args = append(args, from)
		query += ` AND starts_at >= $2`
	}
	if !to.IsZero() {
		args = append(args, to)
		if len(args) == 3 {
			query += ` AND starts_at <= $3`
		} else {
			query += ` AND starts_at <= $2`
		}
	}
	query += ` ORDER BY starts_at`

	var rows []lessonRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "listing lessons")
	}
	lessons := make([]schedule.Lesson, 0, len(rows))
	for _, r := range rows {
		lessons = append(lessons, r.toLesson())
	}
	return lessons, nil
}
