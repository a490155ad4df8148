package paymentsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
)

// DummyService is an in-memory payment processor for dev and tests. It
// honours idempotency keys and can be primed to fail per customer or
// account, mirroring how partial batch failures behave in production.
type DummyService struct {
	mu        sync.Mutex
	seq       int
	customers map[string]string // email -> customerID
	seenKeys  map[string]string // idempotency key -> created object ID

	Charges   []core.ChargeRequest
	Transfers []core.TransferRequest
	Credits   []core.CreditRequest

	// FailFor makes any operation against the given customer/account fail.
	// The bool marks the failure transient.
	FailFor map[string]bool
}

var _ core.PaymentService = (*DummyService)(nil)

func NewDummyService() *DummyService {
	return &DummyService{
		customers: make(map[string]string),
		seenKeys:  make(map[string]string),
		FailFor:   make(map[string]bool),
	}
}

func (svc *DummyService) CreateOrFindCustomer(ctx context.Context, email, name string) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if id, ok := svc.customers[email]; ok {
		return id, nil
	}
	id := svc.nextID("cus")
	svc.customers[email] = id
	return id, nil
}

func (svc *DummyService) CreateCharge(ctx context.Context, req core.ChargeRequest) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if err := svc.failure("creating charge", req.CustomerID); err != nil {
		return "", err
	}
	if id, ok := svc.seenKeys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := svc.nextID("ch")
	svc.Charges = append(svc.Charges, req)
	svc.remember(req.IdempotencyKey, id)
	return id, nil
}

func (svc *DummyService) CreateTransfer(ctx context.Context, req core.TransferRequest) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if err := svc.failure("creating transfer", req.AccountID); err != nil {
		return "", err
	}
	if id, ok := svc.seenKeys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := svc.nextID("tr")
	svc.Transfers = append(svc.Transfers, req)
	svc.remember(req.IdempotencyKey, id)
	return id, nil
}

func (svc *DummyService) CreateAccount(ctx context.Context, email string) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.nextID("acct"), nil
}

func (svc *DummyService) CreateCredit(ctx context.Context, req core.CreditRequest) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if err := svc.failure("creating credit", req.CustomerID); err != nil {
		return "", err
	}
	if id, ok := svc.seenKeys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := svc.nextID("cbtxn")
	svc.Credits = append(svc.Credits, req)
	svc.remember(req.IdempotencyKey, id)
	return id, nil
}

func (svc *DummyService) failure(op, target string) error {
	if transient, ok := svc.FailFor[target]; ok {
		return core.NewProviderError(op, transient, errors.New("primed failure for "+target))
	}
	return nil
}

func (svc *DummyService) remember(key, id string) {
	if key != "" {
		svc.seenKeys[key] = id
	}
}

func (svc *DummyService) nextID(prefix string) string {
	svc.seq++
	return fmt.Sprintf("%s_dummy%04d", prefix, svc.seq)
}
