package invite

import (
	"errors"
	"time"
)

// TTL is the invitation window. The signed token and the row's expires_at
// are both derived from it at issuance, so the two expiry checks stay in
// lockstep by construction.
const TTL = 7 * 24 * time.Hour

// Status is the invite state. Transitions are monotonic: PENDING moves to
// ACCEPTED or EXPIRED exactly once and neither terminal state is left.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusExpired  Status = "EXPIRED"
)

var (
	// ErrInvalidToken covers signature and claim failures, and tokens whose
	// invite row no longer resolves. Structurally different from ErrExpired.
	ErrInvalidToken = errors.New("invite: invalid token")
	// ErrExpired marks an invite past its window, observed lazily at accept.
	ErrExpired = errors.New("invite: expired")
	// ErrAlreadyProcessed marks an invite no longer PENDING.
	ErrAlreadyProcessed = errors.New("invite: already processed")
)

// Invite is a time-boxed, single-use credential that bootstraps a user and
// optionally an initial grant.
type Invite struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	SystemID  string    `json:"system_id"`
	RoleID    string    `json:"role_id,omitempty"`
	Token     string    `json:"-"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	InvitedBy string    `json:"invited_by"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckExpiry is the single expiry transition: a PENDING invite past its
// window flips to EXPIRED. There is no background sweep; this runs at the
// accept entry point only. Reports whether a transition happened.
func (inv *Invite) CheckExpiry(now time.Time) bool {
	if inv.Status != StatusPending {
		return false
	}
	if now.Before(inv.ExpiresAt) {
		return false
	}
	inv.Status = StatusExpired
	return true
}
