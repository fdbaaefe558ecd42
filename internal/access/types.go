package access

import "time"

// SystemActor is the sentinel actor/subject recorded when the real subject
// no longer exists or when the platform itself performs the mutation.
const SystemActor = "SYSTEM"

// Status is the user lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInvited   Status = "INVITED"
	StatusSuspended Status = "SUSPENDED"
	StatusInactive  Status = "INACTIVE"
)

// ValidStatus reports whether s is a member of the closed status enum.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInvited, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// User is an account in the identity store.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named bundle of capabilities; the action set a role carries is
// the static table in capabilities.go, not a database relation.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Group collects users so one grant can cover all of them.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a user to a group. Unique on (UserID, GroupID).
type Membership struct {
	UserID    string    `json:"user_id"`
	GroupID   string    `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SubjectKind tags the two grant subject variants.
type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectGroup SubjectKind = "group"
)

// Subject identifies who a grant applies to: a single user or a whole group.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// UserSubject builds a user-scoped subject.
func UserSubject(id string) Subject { return Subject{Kind: SubjectUser, ID: id} }

// GroupSubject builds a group-scoped subject.
func GroupSubject(id string) Subject { return Subject{Kind: SubjectGroup, ID: id} }

// Grant associates a subject with a protected system and a role. It is the
// unit the authorization engine consults.
type Grant struct {
	ID        string    `json:"id"`
	Subject   Subject   `json:"subject"`
	SystemID  string    `json:"system_id"`
	RoleID    string    `json:"role_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditAction classifies audit trail entries.
type AuditAction string

const (
	AuditGranted         AuditAction = "GRANTED"
	AuditRevoked         AuditAction = "REVOKED"
	AuditUserCreated     AuditAction = "USER_CREATED"
	AuditUserDeleted     AuditAction = "USER_DELETED"
	AuditUserReactivated AuditAction = "USER_REACTIVATED"
	AuditUserStatus      AuditAction = "USER_STATUS_CHANGED"
	AuditInviteIssued    AuditAction = "INVITE_ISSUED"
	AuditInviteAccepted  AuditAction = "INVITE_ACCEPTED"
	AuditInviteExpired   AuditAction = "INVITE_EXPIRED"
)

// AuditEntry is one append-only row in the permission audit trail. Rows are
// never updated or deleted; they outlive the subjects they describe.
type AuditEntry struct {
	ID          string      `json:"id"`
	Action      AuditAction `json:"action"`
	UserID      string      `json:"user_id"` // SystemActor once the subject is gone
	SystemID    string      `json:"system_id,omitempty"`
	RoleID      string      `json:"role_id,omitempty"`
	PerformedBy string      `json:"performed_by"`
	Details     string      `json:"details,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// DeletionReceipt echoes the identity of a hard-deleted user.
type DeletionReceipt struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Page carries pagination parameters; zero values fall back to defaults.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps page parameters to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 || p.Size > 200 {
		p.Size = 10
	}
	return p
}

// Offset converts the page to a row offset.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Pagination describes a result window.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes the derived page count.
func NewPagination(total int, page Page) Pagination {
	pages := total / page.Size
	if total%page.Size != 0 {
		pages++
	}
	return Pagination{Total: total, Page: page.Number, PageSize: page.Size, TotalPages: pages}
}

// UserFilter restricts ListUsers.
type UserFilter struct {
	Search string // case-insensitive substring over username/email/display name
	Status Status // empty means any
}
