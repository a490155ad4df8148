package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	for _, usr := range repo.db.users {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	usr.ID = repo.db.nextPK()
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if usr, ok := repo.db.users[id]; ok {
		return *usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) getBy(match func(user.User) bool) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	for _, usr := range repo.db.users {
		if match(*usr) {
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(func(u user.User) bool { return u.Username == username })
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getBy(func(u user.User) bool { return u.Email == email })
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(func(u user.User) bool { return u.Username == username || u.Email == username })
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var users []user.User
	for _, usr := range repo.db.users {
		if search != "" &&
			!strings.Contains(strings.ToLower(usr.Name), search) &&
			!strings.Contains(strings.ToLower(usr.Username), search) &&
			!strings.Contains(strings.ToLower(usr.Email), search) {
			continue
		}
		if filter.Role != "" && usr.Role != filter.Role {
			continue
		}
		if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
			continue
		}
		if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		users = append(users, *usr)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	cur, ok := repo.db.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.Name != "" {
		cur.Name = usr.Name
	}
	if usr.Username != "" {
		cur.Username = usr.Username
	}
	if usr.Email != "" {
		cur.Email = usr.Email
	}
	if !usr.OnlineRate.IsZero() {
		cur.OnlineRate = usr.OnlineRate
	}
	if !usr.InPersonRate.IsZero() {
		cur.InPersonRate = usr.InPersonRate
	}
	if usr.PasswordHash != nil {
		cur.PasswordHash = usr.PasswordHash
	}
	if isActive != nil {
		cur.IsActive = *isActive
	}
	cur.UpdatedAt = usr.UpdatedAt
	return *cur, nil
}

func (repo *userRepository) SetLastLogin(ctx context.Context, usr user.User) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	cur, ok := repo.db.users[usr.ID]
	if !ok {
		return user.ErrNotFound
	}
	cur.LastLogin = usr.LastLogin
	return nil
}

func (repo *userRepository) SetCustomerID(ctx context.Context, id, customerID string) error {
	return repo.set(id, func(u *user.User) { u.CustomerID = customerID })
}

func (repo *userRepository) SetPayoutAccountID(ctx context.Context, id, accountID string) error {
	return repo.set(id, func(u *user.User) { u.PayoutAccountID = accountID })
}

func (repo *userRepository) SetCalendarToken(ctx context.Context, id string, tok core.OAuthToken) error {
	return repo.set(id, func(u *user.User) { u.CalendarToken = tok })
}

func (repo *userRepository) set(id string, mutate func(*user.User)) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	cur, ok := repo.db.users[id]
	if !ok {
		return user.ErrNotFound
	}
	mutate(cur)
	return nil
}

func (repo *userRepository) RatesByID(ctx context.Context, ids []string) (map[string]user.Rates, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	rates := make(map[string]user.Rates, len(ids))
	for _, id := range ids {
		if usr, ok := repo.db.users[id]; ok {
			rates[id] = usr.Rates()
		}
	}
	return rates, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	for _, id := range ids {
		delete(repo.db.users, id)
	}
	return nil
}
