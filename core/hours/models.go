package hours

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core"
)

type (
	Channel       string
	Status        string
	Eligibility   string
	InvoiceStatus string
)

const (
	ChannelOnline   Channel = "online"
	ChannelInPerson Channel = "in_person"
	ChannelUnset    Channel = "unset"

	StatusAccepted Status = "accepted"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
	StatusVoid     Status = "void"

	// EligibilityEligible marks a session logged within its billing week;
	// EligibilityLate marks an administrative backfill outside that window.
	EligibilityEligible Eligibility = "eligible"
	EligibilityLate     Eligibility = "late"

	InvoicePending  InvoiceStatus = "pending"
	InvoiceInvoiced InvoiceStatus = "invoiced"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Edit records a prior field value, kept on the record as audit history.
type Edit struct {
	Field string    `json:"field"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}

// HourRecord is one tutoring session instance on the hour ledger.
type HourRecord struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	ParentID  string `json:"parent_id"`
	TutorID   string `json:"tutor_id"`

	Date     time.Time       `json:"date"` // session date, midnight in the billing zone
	StartsAt time.Time       `json:"starts_at"`
	EndsAt   time.Time       `json:"ends_at"`
	Duration decimal.Decimal `json:"duration"` // hours

	Channel Channel `json:"channel"`
	Subject string  `json:"subject"`
	Notes   string  `json:"notes"`

	Status        Status        `json:"status"`
	Eligibility   Eligibility   `json:"eligibility"`
	InvoiceStatus InvoiceStatus `json:"invoice_status"`

	// TutorReply is only meaningful while the record is disputed.
	TutorReply string `json:"tutor_reply,omitempty"`
	Edits      []Edit `json:"edits,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (r *HourRecord) Invoiced() bool { return r.InvoiceStatus == InvoiceInvoiced }

// NewHourRecord is the tutor-submitted session payload.
type NewHourRecord struct {
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Channel   string `json:"channel" validate:"omitempty,channel"`
	Subject   string `json:"subject"`
	Notes     string `json:"notes"`
}

func (nh *NewHourRecord) Validate(validate *validator.Validate) error {
	nh.StudentID = core.CleanString(nh.StudentID)
	nh.Subject = core.CleanString(nh.Subject)
	nh.Channel = core.CleanString(nh.Channel, true /* lower */)
	return validate.Struct(nh)
}

// BulkHourRecord is one entry of the administrative batch-add path; unlike the
// tutor path it names the tutor explicitly.
type BulkHourRecord struct {
	TutorID string `json:"tutor_id" validate:"required"`
	NewHourRecord
}

func (bh *BulkHourRecord) Validate(validate *validator.Validate) error {
	bh.TutorID = core.CleanString(bh.TutorID)
	return validate.Struct(bh)
}

// BulkError reports a failed entry of a bulk add by position.
type BulkError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// UpdateHourRecord carries tutor edits; empty fields keep their prior value.
type UpdateHourRecord struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Channel   string `json:"channel" validate:"omitempty,channel"`
	Subject   string `json:"subject"`
	Notes     string `json:"notes"`
}

func (uh *UpdateHourRecord) Validate(validate *validator.Validate) error {
	uh.Subject = core.CleanString(uh.Subject)
	uh.Channel = core.CleanString(uh.Channel, true /* lower */)
	return validate.Struct(uh)
}

type QueryFilter struct {
	TutorID       string        `query:"tutor"`
	StudentID     string        `query:"student"`
	ParentID      string        `query:"parent"`
	Status        Status        `query:"status"`
	InvoiceStatus InvoiceStatus `query:"invoice_status"`
	From          time.Time     `query:"from"`
	To            time.Time     `query:"to"`
}

// Domain events, routed explicitly by the caller (referral trigger,
// notification dispatch).

type HourAccepted struct {
	Record HourRecord
}

func (HourAccepted) EventName() string { return "hours.accepted" }

type HourDisputed struct {
	Record  HourRecord
	Dispute Dispute
}

func (HourDisputed) EventName() string { return "hours.disputed" }
