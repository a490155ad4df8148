package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

type userRow struct {
	ID                   string          `db:"id"`
	Name                 string          `db:"name"`
	Username             null.String     `db:"username"`
	Email                null.String     `db:"email"`
	Role                 string          `db:"role"`
	IsActive             bool            `db:"is_active"`
	ParentID             null.String     `db:"parent_id"`
	OnlineRate           decimal.Decimal `db:"online_rate"`
	InPersonRate         decimal.Decimal `db:"in_person_rate"`
	CustomerID           string          `db:"customer_id"`
	PayoutAccountID      string          `db:"payout_account_id"`
	CalendarAccessToken  string          `db:"calendar_access_token"`
	CalendarRefreshToken string          `db:"calendar_refresh_token"`
	CalendarTokenExpiry  null.Time       `db:"calendar_token_expiry"`
	PasswordHash         []byte          `db:"password_hash"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
	LastLogin            null.Time       `db:"last_login"`
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:              r.ID,
		Name:            r.Name,
		Username:        r.Username.String,
		Email:           r.Email.String,
		Role:            user.Role(r.Role),
		IsActive:        r.IsActive,
		ParentID:        r.ParentID.String,
		OnlineRate:      r.OnlineRate,
		InPersonRate:    r.InPersonRate,
		CustomerID:      r.CustomerID,
		PayoutAccountID: r.PayoutAccountID,
		CalendarToken: core.OAuthToken{
			AccessToken:  r.CalendarAccessToken,
			RefreshToken: r.CalendarRefreshToken,
			Expiry:       r.CalendarTokenExpiry.Time,
		},
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLogin:    r.LastLogin.Time,
	}
}

func fromUser(usr user.User) userRow {
	return userRow{
		ID:                   usr.ID,
		Name:                 usr.Name,
		Username:             null.NewString(usr.Username, usr.Username != ""),
		Email:                null.NewString(usr.Email, usr.Email != ""),
		Role:                 string(usr.Role),
		IsActive:             usr.IsActive,
		ParentID:             null.NewString(usr.ParentID, usr.ParentID != ""),
		OnlineRate:           usr.OnlineRate,
		InPersonRate:         usr.InPersonRate,
		CustomerID:           usr.CustomerID,
		PayoutAccountID:      usr.PayoutAccountID,
		CalendarAccessToken:  usr.CalendarToken.AccessToken,
		CalendarRefreshToken: usr.CalendarToken.RefreshToken,
		CalendarTokenExpiry:  null.NewTime(usr.CalendarToken.Expiry, !usr.CalendarToken.Expiry.IsZero()),
		PasswordHash:         usr.PasswordHash,
		CreatedAt:            usr.CreatedAt.UTC(),
		UpdatedAt:            usr.UpdatedAt.UTC(),
		LastLogin:            null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	query := `SELECT username = ? AS username_taken FROM "user" WHERE (username = ? OR email = ?)`
	args := []interface{}{username, username, email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		var err error
		query, args, err = sqlx.In(query+" AND id NOT IN (?)", username, username, email, ids)
		if err != nil {
			return errors.Wrap(err, "building uniqueness query")
		}
	}

	var usernameTaken []bool
	if err := repo.db.SelectContext(ctx, &usernameTaken, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, taken := range usernameTaken {
		if taken && username != "" {
			return user.ErrUsernameExists
		}
	}
	if len(usernameTaken) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := fromUser(usr)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO "user" (
			id, name, username, email, role, is_active, parent_id,
			online_rate, in_person_rate, customer_id, payout_account_id,
			calendar_access_token, calendar_refresh_token, calendar_token_expiry,
			password_hash, created_at, updated_at, last_login
		) VALUES (
			:id, :name, :username, :email, :role, :is_active, :parent_id,
			:online_rate, :in_person_rate, :customer_id, :payout_account_id,
			:calendar_access_token, :calendar_refresh_token, :calendar_token_expiry,
			:password_hash, :created_at, :updated_at, :last_login
		)`, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) getBy(ctx context.Context, clause string, args ...interface{}) (user.User, error) {
	var row userRow
	query := `SELECT * FROM "user" WHERE ` + clause
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getBy(ctx, "id = $1", id)
}

func (repo userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, "username = $1", username)
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getBy(ctx, "email = $1", email)
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, "username = $1 OR email = $1", username)
}

func (repo userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	query := `SELECT * FROM "user" WHERE 1=1`
	var args []interface{}
	n := 0
	next := func(v interface{}) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if filter.Search != "" {
		p := next("%" + filter.Search + "%")
		query += ` AND (name ILIKE ` + p + ` OR username ILIKE ` + p + ` OR email ILIKE ` + p + `)`
	}
	if filter.Role != "" {
		query += ` AND role = ` + next(string(filter.Role))
	}
	if filter.IsActive != nil {
		query += ` AND is_active = ` + next(*filter.IsActive)
	}
	if !filter.CreatedFrom.IsZero() {
		query += ` AND created_at >= ` + next(filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		query += ` AND created_at <= ` + next(filter.CreatedTo)
	}
	query += ` ORDER BY created_at DESC`

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	query := `UPDATE "user" SET updated_at = $1`
	args := []interface{}{usr.UpdatedAt.UTC()}
	n := 1
	set := func(col string, v interface{}) {
		n++
		query += `, ` + col + ` = $` + strconv.Itoa(n)
		args = append(args, v)
	}

	if usr.Name != "" {
		set("name", usr.Name)
	}
	if usr.Username != "" {
		set("username", usr.Username)
	}
	if usr.Email != "" {
		set("email", usr.Email)
	}
	if !usr.OnlineRate.IsZero() {
		set("online_rate", usr.OnlineRate)
	}
	if !usr.InPersonRate.IsZero() {
		set("in_person_rate", usr.InPersonRate)
	}
	if usr.PasswordHash != nil {
		set("password_hash", usr.PasswordHash)
	}
	if isActive != nil {
		set("is_active", *isActive)
	}

	n++
	query += ` WHERE id = $` + strconv.Itoa(n)
	args = append(args, usr.ID)

	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo userRepository) SetLastLogin(ctx context.Context, usr user.User) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE "user" SET last_login = $1 WHERE id = $2`, usr.LastLogin.UTC(), usr.ID)
	return errors.Wrap(err, "setting last login")
}

func (repo userRepository) SetCustomerID(ctx context.Context, id, customerID string) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE "user" SET customer_id = $1 WHERE id = $2`, customerID, id)
	return errors.Wrap(err, "setting customer id")
}

func (repo userRepository) SetPayoutAccountID(ctx context.Context, id, accountID string) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE "user" SET payout_account_id = $1 WHERE id = $2`, accountID, id)
	return errors.Wrap(err, "setting payout account id")
}

func (repo userRepository) SetCalendarToken(ctx context.Context, id string, tok core.OAuthToken) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE "user"
		SET calendar_access_token = $1, calendar_refresh_token = $2, calendar_token_expiry = $3
		WHERE id = $4`,
		tok.AccessToken, tok.RefreshToken, null.NewTime(tok.Expiry, !tok.Expiry.IsZero()), id)
	return errors.Wrap(err, "setting calendar token")
}

func (repo userRepository) RatesByID(ctx context.Context, ids []string) (map[string]user.Rates, error) {
	if len(ids) == 0 {
		return map[string]user.Rates{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, online_rate, in_person_rate FROM "user" WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "building rates query")
	}

	var rows []struct {
		ID           string          `db:"id"`
		OnlineRate   decimal.Decimal `db:"online_rate"`
		InPersonRate decimal.Decimal `db:"in_person_rate"`
	}
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "loading rates")
	}

	rates := make(map[string]user.Rates, len(rows))
	for _, r := range rows {
		rates[r.ID] = user.Rates{Online: r.OnlineRate, InPerson: r.InPersonRate}
	}
	return rates, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM "user" WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	_, err = repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	return errors.Wrap(err, "deleting users")
}
