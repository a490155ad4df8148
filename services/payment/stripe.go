package paymentsvc

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/classhour/backend/core"
)

type stripeService struct {
	api    *client.API
	logger core.Logger
}

var _ core.PaymentService = (*stripeService)(nil)

func NewStripeService(conf *core.Config, logger core.Logger) *stripeService {
	return &stripeService{
		api:    client.New(conf.StripeAPIKey, nil),
		logger: logger,
	}
}

func (svc *stripeService) CreateOrFindCustomer(ctx context.Context, email, name string) (string, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Filters.AddFilter("limit", "", "1")

	it := svc.api.Customers.List(listParams)
	for it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", wrapStripeErr("listing customers", err)
	}

	cust, err := svc.api.Customers.New(&stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
		Name:   stripe.String(name),
	})
	if err != nil {
		return "", wrapStripeErr("creating customer", err)
	}
	return cust.ID, nil
}

func (svc *stripeService) CreateCharge(ctx context.Context, req core.ChargeRequest) (string, error) {
	params := &stripe.ChargeParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(req.Currency),
		Customer:    stripe.String(req.CustomerID),
		Description: stripe.String(req.Description),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	ch, err := svc.api.Charges.New(params)
	if err != nil {
		return "", wrapStripeErr("creating charge", err)
	}
	return ch.ID, nil
}

func (svc *stripeService) CreateTransfer(ctx context.Context, req core.TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.AccountID),
		Description: stripe.String(req.Description),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	tr, err := svc.api.Transfers.New(params)
	if err != nil {
		return "", wrapStripeErr("creating transfer", err)
	}
	return tr.ID, nil
}

func (svc *stripeService) CreateAccount(ctx context.Context, email string) (string, error) {
	acct, err := svc.api.Account.New(&stripe.AccountParams{
		Params: stripe.Params{Context: ctx},
		Type:   stripe.String(string(stripe.AccountTypeExpress)),
		Email:  stripe.String(email),
	})
	if err != nil {
		return "", wrapStripeErr("creating account", err)
	}
	return acct.ID, nil
}

func (svc *stripeService) CreateCredit(ctx context.Context, req core.CreditRequest) (string, error) {
	// a negative balance transaction credits the customer
	params := &stripe.CustomerBalanceTransactionParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(req.CustomerID),
		Amount:      stripe.Int64(-req.AmountMinor),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	tx, err := svc.api.CustomerBalanceTransactions.New(params)
	if err != nil {
		return "", wrapStripeErr("creating customer credit", err)
	}
	return tx.ID, nil
}

// wrapStripeErr classifies processor failures: connection hiccups, rate limits
// and 5xx responses may be retried; card declines and bad requests may not.
func wrapStripeErr(op string, err error) error {
	var transient bool
	if serr, ok := err.(*stripe.Error); ok {
		switch serr.Type {
		case stripe.ErrorTypeAPIConnection, stripe.ErrorTypeRateLimit:
			transient = true
		case stripe.ErrorTypeAPI:
			transient = serr.HTTPStatusCode >= 500
		}
	} else {
		// transport-level failure before a response was read
		transient = true
	}
	return core.NewProviderError(op, transient, errors.WithStack(err))
}
