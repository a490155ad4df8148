package hours

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

type DisputeStatus string

const (
	DisputePending   DisputeStatus = "pending"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeDismissed DisputeStatus = "dismissed"
	DisputeCancelled DisputeStatus = "cancelled"
)

var ErrDisputeNotFound = core.NewNotFoundError("dispute not found")

// Dispute is a status machine over one hour record:
// pending -> resolved|dismissed (admin) or pending -> cancelled (complainer).
type Dispute struct {
	ID           string        `json:"id"`
	HourRecordID string        `json:"hour_record_id"`
	RaisedByID   string        `json:"raised_by_id"`
	Reason       string        `json:"reason"`
	Status       DisputeStatus `json:"status"`
	AdminReply   string        `json:"admin_reply,omitempty"`
	ResolvedByID string        `json:"resolved_by_id,omitempty"`
	ResolvedAt   time.Time     `json:"resolved_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"` // UTC
}

type NewDispute struct {
	Reason string `json:"reason" validate:"required"`
}

func (nd *NewDispute) Validate(validate *validator.Validate) error {
	nd.Reason = core.CleanString(nd.Reason)
	return validate.Struct(nd)
}

type DisputeReply struct {
	Reply string `json:"reply" validate:"required"`
}

func (dr *DisputeReply) Validate(validate *validator.Validate) error {
	dr.Reply = core.CleanString(dr.Reply)
	return validate.Struct(dr)
}

// OpenDispute flips the record to disputed and opens a pending dispute.
// Only the parent billed for the record may raise one.
func (svc *Service) OpenDispute(ctx context.Context, raisedBy user.User, recordID string, nd NewDispute) (Dispute, []core.Event, error) {
	rec, err := svc.repo.GetHourRecord(ctx, recordID)
	if err != nil {
		return Dispute{}, nil, err
	}
	if rec.ParentID != raisedBy.ID && !raisedBy.IsAdmin() {
		return Dispute{}, nil, core.NewValidationError(errors.New("only the billed parent may dispute this record"))
	}
	if rec.Status == StatusDisputed {
		return Dispute{}, nil, core.NewConflictError("record is already disputed")
	}
	if rec.Status != StatusAccepted {
		return Dispute{}, nil, core.NewValidationError(errors.New("only accepted records may be disputed"))
	}

	now := time.Now().UTC()
	d := Dispute{
		HourRecordID: rec.ID,
		RaisedByID:   raisedBy.ID,
		Reason:       nd.Reason,
		Status:       DisputePending,
		CreatedAt:    now,
	}
	d, err = svc.repo.CreateDispute(ctx, d)
	if err != nil {
		return Dispute{}, nil, err
	}

	rec.Status = StatusDisputed
	rec.UpdatedAt = now
	if rec, err = svc.repo.UpdateHourRecord(ctx, rec); err != nil {
		return Dispute{}, nil, err
	}

	return d, []core.Event{HourDisputed{Record: rec, Dispute: d}}, nil
}

// ReplyToDispute records the tutor's free-text reply on the disputed record.
func (svc *Service) ReplyToDispute(ctx context.Context, tutor user.User, disputeID, reply string) (HourRecord, error) {
	d, err := svc.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return HourRecord{}, err
	}
	rec, err := svc.repo.GetHourRecord(ctx, d.HourRecordID)
	if err != nil {
		return HourRecord{}, err
	}
	if rec.TutorID != tutor.ID {
		return HourRecord{}, core.NewValidationError(errors.New("only the logging tutor may reply"))
	}
	if d.Status != DisputePending {
		return HourRecord{}, core.NewConflictError("dispute is no longer pending")
	}
	rec.TutorReply = core.CleanString(reply)
	rec.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateHourRecord(ctx, rec)
}

// ResolveDispute closes a pending dispute in the complainer's favor; the
// record moves to resolved and remains billable.
func (svc *Service) ResolveDispute(ctx context.Context, admin user.User, disputeID string, dr DisputeReply) (Dispute, error) {
	return svc.closeDispute(ctx, admin, disputeID, dr, DisputeResolved, StatusResolved)
}

// DismissDispute closes a pending dispute in the tutor's favor; the record
// returns to accepted.
func (svc *Service) DismissDispute(ctx context.Context, admin user.User, disputeID string, dr DisputeReply) (Dispute, error) {
	return svc.closeDispute(ctx, admin, disputeID, dr, DisputeDismissed, StatusAccepted)
}

// CancelDispute lets the original complainer withdraw a still-pending dispute.
func (svc *Service) CancelDispute(ctx context.Context, caller user.User, disputeID string) (Dispute, error) {
	d, err := svc.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.RaisedByID != caller.ID {
		return Dispute{}, core.NewValidationError(errors.New("only the original complainer may cancel"))
	}
	if d.Status != DisputePending {
		return Dispute{}, core.NewConflictError("dispute is no longer pending")
	}

	now := time.Now().UTC()
	d.Status = DisputeCancelled
	d.ResolvedByID = caller.ID
	d.ResolvedAt = now
	if d, err = svc.repo.UpdateDispute(ctx, d); err != nil {
		return Dispute{}, err
	}

	if err = svc.restoreRecordStatus(ctx, d.HourRecordID, StatusAccepted, now); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

func (svc *Service) GetDispute(ctx context.Context, id string) (Dispute, error) {
	return svc.repo.GetDispute(ctx, id)
}

func (svc *Service) closeDispute(
	ctx context.Context,
	admin user.User,
	disputeID string,
	dr DisputeReply,
	disputeStatus DisputeStatus,
	recordStatus Status,
) (Dispute, error) {
	if !admin.IsAdmin() {
		return Dispute{}, core.NewValidationError(errors.New("admin only"))
	}
	d, err := svc.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != DisputePending {
		return Dispute{}, core.NewConflictError("dispute is no longer pending")
	}

	now := time.Now().UTC()
	d.Status = disputeStatus
	d.AdminReply = dr.Reply
	d.ResolvedByID = admin.ID
	d.ResolvedAt = now
	if d, err = svc.repo.UpdateDispute(ctx, d); err != nil {
		return Dispute{}, err
	}

	if err = svc.restoreRecordStatus(ctx, d.HourRecordID, recordStatus, now); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

func (svc *Service) restoreRecordStatus(ctx context.Context, recordID string, status Status, now time.Time) error {
	rec, err := svc.repo.GetHourRecord(ctx, recordID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.UpdatedAt = now
	_, err = svc.repo.UpdateHourRecord(ctx, rec)
	return err
}
