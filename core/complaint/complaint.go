package complaint

import (
	"context"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusResolved Status = "resolved"
)

var ErrNotFound = core.NewNotFoundError("complaint not found")

// Complaint is a pending -> reviewed -> resolved status machine about a
// tutor, admin-driven, with a reply and resolver identity at each step.
type Complaint struct {
	ID           string    `json:"id"`
	TutorID      string    `json:"tutor_id"`
	RaisedByID   string    `json:"raised_by_id"`
	Text         string    `json:"text"`
	Status       Status    `json:"status"`
	AdminReply   string    `json:"admin_reply,omitempty"`
	ReviewedByID string    `json:"reviewed_by_id,omitempty"`
	ReviewedAt   time.Time `json:"reviewed_at,omitempty"`
	ResolvedByID string    `json:"resolved_by_id,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

type NewComplaint struct {
	TutorID string `json:"tutor_id" validate:"required"`
	Text    string `json:"text" validate:"required"`
}

func (nc *NewComplaint) Validate(validate *validator.Validate) error {
	nc.TutorID = core.CleanString(nc.TutorID)
	nc.Text = core.CleanString(nc.Text)
	return validate.Struct(nc)
}

type Reply struct {
	Reply string `json:"reply" validate:"required"`
}

func (r *Reply) Validate(validate *validator.Validate) error {
	r.Reply = core.CleanString(r.Reply)
	return validate.Struct(r)
}

type (
	Repository interface {
		CreateComplaint(ctx context.Context, c Complaint) (Complaint, error)
		GetComplaint(ctx context.Context, id string) (Complaint, error)
		UpdateComplaint(ctx context.Context, c Complaint) (Complaint, error)
		FilterComplaints(ctx context.Context, tutorID string, status Status) ([]Complaint, error)
	}

	Service struct {
		repo    Repository
		users   *user.Service
		mailSvc core.EmailService
		conf    *core.Config
	}
)

func NewService(repo Repository, users *user.Service, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		users:   users,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *Service) Open(ctx context.Context, raisedBy user.User, nc NewComplaint) (Complaint, error) {
	tutor, err := svc.users.GetByID(ctx, nc.TutorID)
	if err != nil {
		return Complaint{}, err
	}
	if !tutor.IsTutor() {
		return Complaint{}, core.NewValidationError(errors.New("complaints can only target tutors"))
	}
	return svc.repo.CreateComplaint(ctx, Complaint{
		TutorID:    tutor.ID,
		RaisedByID: raisedBy.ID,
		Text:       nc.Text,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	})
}

// Review moves a pending complaint to reviewed.
func (svc *Service) Review(ctx context.Context, admin user.User, id string, r Reply) (Complaint, error) {
	return svc.advance(ctx, admin, id, r, StatusPending, StatusReviewed)
}

// Resolve moves a reviewed complaint to resolved and notifies the complainer.
func (svc *Service) Resolve(ctx context.Context, admin user.User, id string, r Reply) (Complaint, error) {
	c, err := svc.advance(ctx, admin, id, r, StatusReviewed, StatusResolved)
	if err != nil {
		return Complaint{}, err
	}
	svc.notifyResolved(ctx, c)
	return c, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Complaint, error) {
	return svc.repo.GetComplaint(ctx, id)
}

func (svc *Service) Filter(ctx context.Context, tutorID string, status Status) ([]Complaint, error) {
	return svc.repo.FilterComplaints(ctx, tutorID, status)
}

func (svc *Service) advance(ctx context.Context, admin user.User, id string, r Reply, from, to Status) (Complaint, error) {
	if !admin.IsAdmin() {
		return Complaint{}, core.NewValidationError(errors.New("admin only"))
	}
	c, err := svc.repo.GetComplaint(ctx, id)
	if err != nil {
		return Complaint{}, err
	}
	if c.Status != from {
		return Complaint{}, core.NewConflictError("complaint is not " + string(from))
	}

	now := time.Now().UTC()
	c.Status = to
	c.AdminReply = r.Reply
	switch to {
	case StatusReviewed:
		c.ReviewedByID = admin.ID
		c.ReviewedAt = now
	case StatusResolved:
		c.ResolvedByID = admin.ID
		c.ResolvedAt = now
	}
	return svc.repo.UpdateComplaint(ctx, c)
}

func (svc *Service) notifyResolved(ctx context.Context, c Complaint) {
	complainer, err := svc.users.GetByID(ctx, c.RaisedByID)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: complainer.Name, Address: complainer.Email}},
		Subject: "Your complaint has been resolved",
		BodyStr: "Our team reviewed your complaint and replied:\n\n" + c.AdminReply,
	})
}
