package core

import "context"

// Amounts cross this boundary in the processor's minor units (cents); decimal
// arithmetic stays on the domain side.
type (
	ChargeRequest struct {
		CustomerID     string
		AmountMinor    int64
		Currency       string
		Description    string
		IdempotencyKey string
	}

	TransferRequest struct {
		AccountID      string
		AmountMinor    int64
		Currency       string
		Description    string
		IdempotencyKey string
		Metadata       map[string]string
	}

	CreditRequest struct {
		CustomerID     string
		AmountMinor    int64
		Currency       string
		Description    string
		IdempotencyKey string
	}

	// PaymentService is the narrow contract over the payment processor.
	PaymentService interface {
		// CreateOrFindCustomer looks a billing customer up by contact email,
		// creating one on miss.
		CreateOrFindCustomer(ctx context.Context, email, name string) (customerID string, err error)
		CreateCharge(ctx context.Context, req ChargeRequest) (chargeID string, err error)
		CreateTransfer(ctx context.Context, req TransferRequest) (transferID string, err error)
		CreateAccount(ctx context.Context, email string) (accountID string, err error)
		// CreateCredit issues a fixed customer credit; the idempotency key
		// guards against duplicate issuance.
		CreateCredit(ctx context.Context, req CreditRequest) (creditID string, err error)
	}
)
