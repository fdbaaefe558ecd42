package access

import "context"

// Store is the persistence boundary for the access core. Every method that
// mutates more than one row (grant+audit, revoke+audit, user cascade) is
// atomic in the implementation: partial application is a correctness bug.
type Store interface {
	// Identity.
	CreateUser(ctx context.Context, u User, performedBy string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, filter UserFilter, page Page) ([]User, int, error)
	// UpdateUserStatus persists the new status and appends one audit row of
	// the given action in the same transaction.
	UpdateUserStatus(ctx context.Context, userID string, status Status, action AuditAction, performedBy string) (User, error)
	// DeleteUser removes the user's grants, memberships, invites and the
	// user row, then appends a USER_DELETED entry attributed to the SYSTEM
	// subject, all in one transaction. Audit rows are never deleted.
	DeleteUser(ctx context.Context, userID, performedBy string) (DeletionReceipt, error)

	// Roles. Role rows are never physically removed by this subsystem.
	CreateRole(ctx context.Context, name, description string) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	// Groups and membership.
	CreateGroup(ctx context.Context, name string) (Group, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	AddMember(ctx context.Context, groupID, userID string) (Membership, error)
	RemoveMember(ctx context.Context, groupID, userID string) error
	GroupsForUser(ctx context.Context, userID string) ([]string, error)

	// Grants. CreateGrant also appends a GRANTED audit row; DeleteGrant
	// appends a REVOKED row carrying the prior system/role in details.
	// DeleteGrant fails ErrNotFound when the grant id does not exist or is
	// not scoped to the given subject.
	CreateGrant(ctx context.Context, g Grant) (Grant, error)
	DeleteGrant(ctx context.Context, subject Subject, grantID, performedBy string) error
	GrantsForSubject(ctx context.Context, subject Subject) ([]Grant, error)
	// RoleNamesFor resolves the role names granted on systemID to any of
	// the subjects. The authorization engine's only read path.
	RoleNamesFor(ctx context.Context, subjects []Subject, systemID string) ([]string, error)

	// Audit trail, append-only.
	AppendAudit(ctx context.Context, e AuditEntry) (AuditEntry, error)
	ListAudit(ctx context.Context, page Page) ([]AuditEntry, int, error)
}
