package inmemdb

import (
	"context"
	"sort"

	"github.com/classhour/backend/core/complaint"
)

type complaintRepository struct {
	db *DB
}

var _ complaint.Repository = (*complaintRepository)(nil) // interface compliance check

func NewComplaintRepository(db *DB) *complaintRepository {
	return &complaintRepository{db: db}
}

func (repo *complaintRepository) CreateComplaint(ctx context.Context, c complaint.Complaint) (complaint.Complaint, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	c.ID = repo.db.nextPK()
	repo.db.complaints[c.ID] = &c
	return c, nil
}

func (repo *complaintRepository) GetComplaint(ctx context.Context, id string) (complaint.Complaint, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if c, ok := repo.db.complaints[id]; ok {
		return *c, nil
	}
	return complaint.Complaint{}, complaint.ErrNotFound
}

func (repo *complaintRepository) UpdateComplaint(ctx context.Context, c complaint.Complaint) (complaint.Complaint, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	if _, ok := repo.db.complaints[c.ID]; !ok {
		return complaint.Complaint{}, complaint.ErrNotFound
	}
	repo.db.complaints[c.ID] = &c
	return c, nil
}

func (repo *complaintRepository) FilterComplaints(ctx context.Context, tutorID string, status complaint.Status) ([]complaint.Complaint, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var cs []complaint.Complaint
	for _, c := range repo.db.complaints {
		if tutorID != "" && c.TutorID != tutorID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		cs = append(cs, *c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].CreatedAt.After(cs[j].CreatedAt) })
	return cs, nil
}
