package core

import "context"

// Task names routed through the background queue. Anything touching an
// outbound network call goes through here so interactive requests never block
// on third-party latency.
const (
	TaskSendEmail      = "send_email"
	TaskRunInvoices    = "run_invoice_batch"
	TaskRunPayouts     = "run_payout_batch"
	TaskReferralCredit = "referral_credit"
	TaskCalendarSync   = "calendar_sync"
)

type (
	// TaskQueue enqueues a named task with a JSON-serializable payload.
	// Delivery is at least once; there is no ordering guarantee across task
	// types. Handlers must be idempotent.
	TaskQueue interface {
		Enqueue(ctx context.Context, name string, payload interface{}) error
	}

	TaskHandler func(ctx context.Context, payload []byte) error
)
