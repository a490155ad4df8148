package user

import (
	"context"

	"github.com/classhour/backend/core"
)

type ServiceMock struct {
	*Service
}

// NewServiceMock runs mail side effects synchronously so tests can assert on
// sent messages.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) *ServiceMock {
	return &ServiceMock{Service: NewService(repo, mailSvc, conf)}
}

func (svc *ServiceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	svc.sendPasswordResetMail(usr)
	return nil
}
