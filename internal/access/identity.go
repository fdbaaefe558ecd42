package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Identity owns the user lifecycle plus role and group administration.
type Identity struct {
	store Store
	now   func() time.Time
}

// NewIdentity constructs the identity service.
func NewIdentity(store Store) (*Identity, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Identity{store: store, now: time.Now}, nil
}

// CreateUser registers an account directly (the invitation path lives in
// the invite package and attributes creation to SYSTEM).
func (s *Identity) CreateUser(ctx context.Context, actorID, username, email, password, displayName string) (User, error) {
	actorID = strings.TrimSpace(actorID)
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user := User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Status:       StatusActive,
	}
	return s.store.CreateUser(ctx, user, actorID)
}

// UpdateStatus moves a user to a new lifecycle state. Setting the status a
// user already holds is rejected rather than silently accepted.
func (s *Identity) UpdateStatus(ctx context.Context, actorID, userID string, status Status) (User, error) {
	if !ValidStatus(status) {
		return User{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	current, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if current.Status == status {
		return User{}, fmt.Errorf("%w: user already %s", ErrInvalidTransition, status)
	}
	return s.store.UpdateUserStatus(ctx, userID, status, AuditUserStatus, actorID)
}

// Reactivate returns a user to ACTIVE. Reactivating an already active
// account is a conflict and must leave the row untouched.
func (s *Identity) Reactivate(ctx context.Context, actorID, userID string) (User, error) {
	current, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if current.Status == StatusActive {
		return User{}, fmt.Errorf("%w: user already active", ErrConflict)
	}
	return s.store.UpdateUserStatus(ctx, userID, StatusActive, AuditUserReactivated, actorID)
}

// Delete hard-deletes a user. The caller may never delete themselves, and
// accounts holding the master administrative role are untouchable. The
// cascade and the USER_DELETED audit row execute in one transaction.
func (s *Identity) Delete(ctx context.Context, actorID, userID string) (DeletionReceipt, error) {
	actorID = strings.TrimSpace(actorID)
	userID = strings.TrimSpace(userID)
	if actorID == "" || userID == "" {
		return DeletionReceipt{}, fmt.Errorf("%w: actor and user id are required", ErrInvalidInput)
	}
	if actorID == userID {
		return DeletionReceipt{}, ErrSelfDeletion
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return DeletionReceipt{}, err
	}
	protected, err := s.holdsMasterAdmin(ctx, userID)
	if err != nil {
		return DeletionReceipt{}, err
	}
	if protected {
		return DeletionReceipt{}, ErrProtectedAccount
	}
	return s.store.DeleteUser(ctx, userID, actorID)
}

func (s *Identity) holdsMasterAdmin(ctx context.Context, userID string) (bool, error) {
	grants, err := s.store.GrantsForSubject(ctx, UserSubject(userID))
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		role, err := s.store.GetRole(ctx, g.RoleID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return false, err
		}
		if strings.EqualFold(role.Name, RoleMasterAdmin) {
			return true, nil
		}
	}
	return false, nil
}

// Get fetches a user by id.
func (s *Identity) Get(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, userID)
}

// List pages through users matching the filter.
func (s *Identity) List(ctx context.Context, filter UserFilter, page Page) ([]User, Pagination, error) {
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, Pagination{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	page = page.Normalize()
	users, total, err := s.store.ListUsers(ctx, filter, page)
	if err != nil {
		return nil, Pagination{}, err
	}
	return users, NewPagination(total, page), nil
}

// Login verifies credentials for an ACTIVE account.
func (s *Identity) Login(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return User{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if IsNotFound(err) {
			return User{}, ErrUnauthenticated
		}
		return User{}, err
	}
	if user.Status != StatusActive {
		return User{}, ErrUnauthenticated
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrUnauthenticated
	}
	return user, nil
}

// CreateRole adds a role. Names are unique; duplicates are a conflict.
func (s *Identity) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// ListRoles returns all roles sorted by name.
func (s *Identity) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateGroup adds a group.
func (s *Identity) CreateGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	return s.store.CreateGroup(ctx, name)
}

// AddMember joins a user to a group; members inherit the group's grants
// for as long as the membership lasts.
func (s *Identity) AddMember(ctx context.Context, groupID, userID string) (Membership, error) {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" {
		return Membership{}, fmt.Errorf("%w: group and user id are required", ErrInvalidInput)
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return Membership{}, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return Membership{}, err
	}
	return s.store.AddMember(ctx, groupID, userID)
}

// RemoveMember ends a membership.
func (s *Identity) RemoveMember(ctx context.Context, groupID, userID string) error {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" {
		return fmt.Errorf("%w: group and user id are required", ErrInvalidInput)
	}
	return s.store.RemoveMember(ctx, groupID, userID)
}

// Audit pages through the permission audit trail, newest first.
func (s *Identity) Audit(ctx context.Context, page Page) ([]AuditEntry, Pagination, error) {
	page = page.Normalize()
	entries, total, err := s.store.ListAudit(ctx, page)
	if err != nil {
		return nil, Pagination{}, err
	}
	return entries, NewPagination(total, page), nil
}
