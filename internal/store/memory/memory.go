// Package memory holds an in-memory store used by tests and local runs.
// It mirrors the transactional semantics of the Postgres store: composite
// mutations apply fully or not at all under one mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"doctrail.org/internal/access"
	"doctrail.org/internal/ids"
	"doctrail.org/internal/invite"
)

type Store struct {
	mu sync.Mutex

	users       map[string]access.User
	roles       map[string]access.Role
	groups      map[string]access.Group
	memberships map[string]access.Membership // key userID+"/"+groupID
	grants      map[string]access.Grant
	invites     map[string]invite.Invite
	audit       []access.AuditEntry

	now func() time.Time
}

var (
	_ access.Store = (*Store)(nil)
	_ invite.Store = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       map[string]access.User{},
		roles:       map[string]access.Role{},
		groups:      map[string]access.Group{},
		memberships: map[string]access.Membership{},
		grants:      map[string]access.Grant{},
		invites:     map[string]invite.Invite{},
		now:         time.Now,
	}
}

// SetClock overrides the store clock; tests use it to cross expiry windows.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) appendAuditLocked(e access.AuditEntry) access.AuditEntry {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	s.audit = append(s.audit, e)
	return e
}

// --- identity ---

func (s *Store) CreateUser(ctx context.Context, u access.User, performedBy string) (access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return access.User{}, fmt.Errorf("%w: username or email already taken", access.ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	s.appendAuditLocked(access.AuditEntry{
		Action:      access.AuditUserCreated,
		UserID:      u.ID,
		PerformedBy: performedBy,
		Details:     "user " + u.Username + " created",
	})
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return access.User{}, access.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return access.User{}, access.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context, filter access.UserFilter, page access.Page) ([]access.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	var matched []access.User
	for _, u := range s.users {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if needle != "" {
			haystack := strings.ToLower(u.Username + " " + u.Email + " " + u.DisplayName)
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	total := len(matched)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID string, status access.Status, action access.AuditAction, performedBy string) (access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return access.User{}, access.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	s.appendAuditLocked(access.AuditEntry{
		Action:      action,
		UserID:      userID,
		PerformedBy: performedBy,
		Details:     "status set to " + string(status),
	})
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID, performedBy string) (access.DeletionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return access.DeletionReceipt{}, access.ErrNotFound
	}
	for id, g := range s.grants {
		if g.Subject.Kind == access.SubjectUser && g.Subject.ID == userID {
			delete(s.grants, id)
		}
	}
	for key, m := range s.memberships {
		if m.UserID == userID {
			delete(s.memberships, key)
		}
	}
	for id, inv := range s.invites {
		if inv.InvitedBy == userID || inv.UserID == userID {
			delete(s.invites, id)
		}
	}
	delete(s.users, userID)
	s.appendAuditLocked(access.AuditEntry{
		Action:      access.AuditUserDeleted,
		UserID:      access.SystemActor,
		PerformedBy: performedBy,
		Details:     fmt.Sprintf("user %s (%s) deleted", u.Username, u.Email),
	})
	return access.DeletionReceipt{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}, nil
}

// --- roles ---

func (s *Store) CreateRole(ctx context.Context, name, description string) (access.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return access.Role{}, fmt.Errorf("%w: role %s already exists", access.ErrConflict, name)
		}
	}
	role := access.Role{ID: ids.New(), Name: name, Description: description, CreatedAt: s.now().UTC()}
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (access.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return access.Role{}, access.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]access.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- groups ---

func (s *Store) CreateGroup(ctx context.Context, name string) (access.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if strings.EqualFold(g.Name, name) {
			return access.Group{}, fmt.Errorf("%w: group %s already exists", access.ErrConflict, name)
		}
	}
	group := access.Group{ID: ids.New(), Name: name, CreatedAt: s.now().UTC()}
	s.groups[group.ID] = group
	return group, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (access.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return access.Group{}, access.ErrNotFound
	}
	return g, nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) (access.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + groupID
	if _, ok := s.memberships[key]; ok {
		return access.Membership{}, fmt.Errorf("%w: already a member", access.ErrConflict)
	}
	m := access.Membership{UserID: userID, GroupID: groupID, CreatedAt: s.now().UTC()}
	s.memberships[key] = m
	return m, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + groupID
	if _, ok := s.memberships[key]; !ok {
		return access.ErrNotFound
	}
	delete(s.memberships, key)
	return nil
}

func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.memberships {
		if m.UserID == userID {
			out = append(out, m.GroupID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- grants ---

func (s *Store) CreateGrant(ctx context.Context, g access.Grant) (access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = ids.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now().UTC()
	}
	s.grants[g.ID] = g
	s.appendAuditLocked(auditForGrant(access.AuditGranted, g, g.CreatedBy, ""))
	return g, nil
}

func (s *Store) DeleteGrant(ctx context.Context, subject access.Subject, grantID, performedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok || g.Subject != subject {
		return access.ErrNotFound
	}
	delete(s.grants, grantID)
	details := fmt.Sprintf("revoked %s on %s", g.RoleID, g.SystemID)
	s.appendAuditLocked(auditForGrant(access.AuditRevoked, g, performedBy, details))
	return nil
}

func (s *Store) GrantsForSubject(ctx context.Context, subject access.Subject) ([]access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []access.Grant
	for _, g := range s.grants {
		if g.Subject == subject {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RoleNamesFor(ctx context.Context, subjects []access.Subject, systemID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, g := range s.grants {
		if g.SystemID != systemID {
			continue
		}
		for _, sub := range subjects {
			if g.Subject == sub {
				role, ok := s.roles[g.RoleID]
				if !ok {
					continue
				}
				if _, dup := seen[role.Name]; !dup {
					seen[role.Name] = struct{}{}
					out = append(out, role.Name)
				}
			}
		}
	}
	return out, nil
}

func auditForGrant(action access.AuditAction, g access.Grant, performedBy, details string) access.AuditEntry {
	userID := access.SystemActor
	if g.Subject.Kind == access.SubjectUser {
		userID = g.Subject.ID
	}
	return access.AuditEntry{
		Action:      action,
		UserID:      userID,
		SystemID:    g.SystemID,
		RoleID:      g.RoleID,
		PerformedBy: performedBy,
		Details:     details,
	}
}

// --- audit ---

func (s *Store) AppendAudit(ctx context.Context, e access.AuditEntry) (access.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAuditLocked(e), nil
}

func (s *Store) ListAudit(ctx context.Context, page access.Page) ([]access.AuditEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.audit)
	// newest first
	reversed := make([]access.AuditEntry, total)
	for i, e := range s.audit {
		reversed[total-1-i] = e
	}
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return reversed[start:end], total, nil
}

// AuditTrail returns the full trail oldest-first; tests assert ordering
// with it.
func (s *Store) AuditTrail() []access.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// --- invites ---

func (s *Store) CreateInvite(ctx context.Context, inv invite.Invite) (invite.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	s.invites[inv.ID] = inv
	s.appendAuditLocked(access.AuditEntry{
		Action:      access.AuditInviteIssued,
		UserID:      access.SystemActor,
		SystemID:    inv.SystemID,
		RoleID:      inv.RoleID,
		PerformedBy: inv.InvitedBy,
		Details:     "invite issued to " + inv.Email,
	})
	return inv, nil
}

func (s *Store) SetInviteToken(ctx context.Context, inviteID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return access.ErrNotFound
	}
	inv.Token = token
	s.invites[inviteID] = inv
	return nil
}

func (s *Store) GetInvite(ctx context.Context, inviteID string) (invite.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return invite.Invite{}, access.ErrNotFound
	}
	return inv, nil
}

func (s *Store) ExpireInvite(ctx context.Context, inviteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return access.ErrNotFound
	}
	if inv.Status != invite.StatusPending {
		return fmt.Errorf("%w: invite is %s", access.ErrConflict, inv.Status)
	}
	inv.Status = invite.StatusExpired
	s.invites[inviteID] = inv
	s.appendAuditLocked(access.AuditEntry{
		Action:      access.AuditInviteExpired,
		UserID:      access.SystemActor,
		SystemID:    inv.SystemID,
		PerformedBy: access.SystemActor,
		Details:     "invite for " + inv.Email + " expired",
	})
	return nil
}

func (s *Store) AcceptInvite(ctx context.Context, inviteID string, user access.User, grant *access.Grant) (access.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return access.User{}, access.ErrNotFound
	}
	if inv.Status != invite.StatusPending {
		return access.User{}, fmt.Errorf("%w: invite is %s", access.ErrConflict, inv.Status)
	}
	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return access.User{}, fmt.Errorf("%w: username or email already taken", access.ErrConflict)
		}
	}

	if user.ID == "" {
		user.ID = ids.New()
	}
	now := s.now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user

	inv.Status = invite.StatusAccepted
	inv.UserID = user.ID
	s.invites[inviteID] = inv

	s.appendAuditLocked(access.AuditEntry{
		Action:      access.AuditInviteAccepted,
		UserID:      user.ID,
		SystemID:    inv.SystemID,
		RoleID:      inv.RoleID,
		PerformedBy: access.SystemActor,
		Details:     "invite accepted by " + user.Username,
	})

	if grant != nil {
		g := *grant
		g.Subject = access.UserSubject(user.ID)
		if g.ID == "" {
			g.ID = ids.New()
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		s.grants[g.ID] = g
		s.appendAuditLocked(auditForGrant(access.AuditGranted, g, g.CreatedBy, ""))
	}
	return user, nil
}
