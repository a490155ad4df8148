package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/classhour/backend/core"
)

var (
	ErrNotFound       = core.NewNotFoundError("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		FilterUsers(ctx context.Context, filter QueryFilter) ([]User, error)
		UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error)
		SetLastLogin(ctx context.Context, usr User) error
		SetCustomerID(ctx context.Context, id, customerID string) error
		SetPayoutAccountID(ctx context.Context, id, accountID string) error
		SetCalendarToken(ctx context.Context, id string, tok core.OAuthToken) error
		// RatesByID batch-loads per-channel rates so aggregation never reads
		// rates per row.
		RatesByID(ctx context.Context, ids []string) (map[string]Rates, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	secretKey = []byte(conf.SecretKey)
	passwordResetTimeoutDelta = conf.Server.PasswordResetTimeoutDelta
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *Service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Role:      Role(nu.Role),
		ParentID:  nu.ParentID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var err error
	if usr.OnlineRate, err = parseRate(nu.OnlineRate); err != nil {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "online_rate", Error: err.Error()})
	}
	if usr.InPersonRate, err = parseRate(nu.InPersonRate); err != nil {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "in_person_rate", Error: err.Error()})
	}

	// a student's parent must resolve to an actual parent account
	if usr.IsStudent() {
		parent, err := svc.repo.GetUserByID(ctx, usr.ParentID)
		if err != nil || !parent.IsParent() {
			return User{}, core.NewValidationError(
				errors.New("invalid parent"), core.FieldError{Field: "parent_id", Error: "parent not found"})
		}
	}

	if err = usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]User, error) {
	return svc.repo.FilterUsers(ctx, filter)
}

func (svc *Service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr := User{
		ID:        id,
		Name:      uu.Name,
		Username:  uu.Username,
		Email:     uu.Email,
		UpdatedAt: time.Now().UTC(),
	}

	var err error
	if usr.OnlineRate, err = parseRate(uu.OnlineRate); err != nil {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "online_rate", Error: err.Error()})
	}
	if usr.InPersonRate, err = parseRate(uu.InPersonRate); err != nil {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "in_person_rate", Error: err.Error()})
	}

	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	return svc.repo.UpdateUser(ctx, usr, uu.IsActive)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) error {
	return svc.repo.SetLastLogin(ctx, usr)
}

func (svc *Service) SetCustomerID(ctx context.Context, id, customerID string) error {
	return svc.repo.SetCustomerID(ctx, id, customerID)
}

func (svc *Service) SetPayoutAccountID(ctx context.Context, id, accountID string) error {
	return svc.repo.SetPayoutAccountID(ctx, id, accountID)
}

func (svc *Service) SetCalendarToken(ctx context.Context, id string, tok core.OAuthToken) error {
	return svc.repo.SetCalendarToken(ctx, id, tok)
}

func (svc *Service) RatesByID(ctx context.Context, ids []string) (map[string]Rates, error) {
	return svc.repo.RatesByID(ctx, ids)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) (User, error) {
	id, err := decodeUID(rp.UID)
	if err != nil {
		return User{}, core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return User{}, core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr, nil)
}

func (svc *Service) sendPasswordResetMail(usr User) {
	token, err := MakeToken(usr)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			UID   string
			Token string
		}{EncodeUID(usr), token},
	})
}

func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("invalid rate")
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("rate cannot be negative")
	}
	return d, nil
}
