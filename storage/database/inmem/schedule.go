package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/classhour/backend/core/schedule"
)

type scheduleRepository struct {
	db *DB
}

var _ schedule.Repository = (*scheduleRepository)(nil) // interface compliance check

func NewScheduleRepository(db *DB) *scheduleRepository {
	return &scheduleRepository{db: db}
}

func (repo *scheduleRepository) CreateLesson(ctx context.Context, l schedule.Lesson) (schedule.Lesson, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	l.ID = repo.db.nextPK()
	repo.db.lessons[l.ID] = &l
	return l, nil
}

func (repo *scheduleRepository) GetLesson(ctx context.Context, id string) (schedule.Lesson, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if l, ok := repo.db.lessons[id]; ok {
		return *l, nil
	}
	return schedule.Lesson{}, schedule.ErrNotFound
}

func (repo *scheduleRepository) UpdateLesson(ctx context.Context, l schedule.Lesson) (schedule.Lesson, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	if _, ok := repo.db.lessons[l.ID]; !ok {
		return schedule.Lesson{}, schedule.ErrNotFound
	}
	repo.db.lessons[l.ID] = &l
	return l, nil
}

func (repo *scheduleRepository) ListLessonsByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]schedule.Lesson, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var lessons []schedule.Lesson
	for _, l := range repo.db.lessons {
		if l.TutorID != tutorID {
			continue
		}
		if !from.IsZero() && l.StartsAt.Before(from) {
			continue
		}
		if !to.IsZero() && l.StartsAt.After(to) {
			continue
		}
		lessons = append(lessons, *l)
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].StartsAt.Before(lessons[j].StartsAt) })
	return lessons, nil
}
