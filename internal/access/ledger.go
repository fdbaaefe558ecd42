package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"doctrail.org/internal/ids"
)

// Ledger owns grant and revoke mutations. Reads for authorization live in
// Engine; the ledger is the only writer of grant rows.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger constructs a permission ledger over the given store.
func NewLedger(store Store) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Ledger{store: store, now: time.Now}, nil
}

// Grant records that subject holds roleID on systemID. The subject and the
// role must resolve; the grant row and its GRANTED audit row are written in
// one transaction by the store.
func (l *Ledger) Grant(ctx context.Context, actorID string, subject Subject, systemID, roleID string) (Grant, error) {
	actorID = strings.TrimSpace(actorID)
	systemID = strings.TrimSpace(systemID)
	roleID = strings.TrimSpace(roleID)
	if actorID == "" || systemID == "" || roleID == "" {
		return Grant{}, fmt.Errorf("%w: actor, system and role are required", ErrInvalidInput)
	}
	if subject.ID = strings.TrimSpace(subject.ID); subject.ID == "" {
		return Grant{}, fmt.Errorf("%w: grant subject is required", ErrInvalidInput)
	}

	switch subject.Kind {
	case SubjectUser:
		if _, err := l.store.GetUser(ctx, subject.ID); err != nil {
			return Grant{}, fmt.Errorf("resolve grant subject: %w", err)
		}
	case SubjectGroup:
		if _, err := l.store.GetGroup(ctx, subject.ID); err != nil {
			return Grant{}, fmt.Errorf("resolve grant subject: %w", err)
		}
	default:
		return Grant{}, fmt.Errorf("%w: unknown subject kind %q", ErrInvalidInput, subject.Kind)
	}
	if _, err := l.store.GetRole(ctx, roleID); err != nil {
		return Grant{}, fmt.Errorf("resolve role: %w", err)
	}

	grant := Grant{
		ID:        ids.New(),
		Subject:   subject,
		SystemID:  systemID,
		RoleID:    roleID,
		CreatedBy: actorID,
		CreatedAt: l.now().UTC(),
	}
	return l.store.CreateGrant(ctx, grant)
}

// Revoke deletes the grant and appends a REVOKED audit row atomically.
// Revoking an id that does not exist, or that belongs to a different
// subject scope, is ErrNotFound, never a silent success.
func (l *Ledger) Revoke(ctx context.Context, actorID string, subject Subject, grantID string) error {
	actorID = strings.TrimSpace(actorID)
	grantID = strings.TrimSpace(grantID)
	if actorID == "" || grantID == "" {
		return fmt.Errorf("%w: actor and grant id are required", ErrInvalidInput)
	}
	if subject.ID = strings.TrimSpace(subject.ID); subject.ID == "" {
		return fmt.Errorf("%w: grant subject is required", ErrInvalidInput)
	}
	return l.store.DeleteGrant(ctx, subject, grantID, actorID)
}

// List returns the grants held by a subject.
func (l *Ledger) List(ctx context.Context, subject Subject) ([]Grant, error) {
	if subject.ID = strings.TrimSpace(subject.ID); subject.ID == "" {
		return nil, fmt.Errorf("%w: grant subject is required", ErrInvalidInput)
	}
	return l.store.GrantsForSubject(ctx, subject)
}
