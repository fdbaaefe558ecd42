package invite

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"doctrail.org/internal/access"
	"doctrail.org/internal/ids"
	"doctrail.org/internal/mail"
	"doctrail.org/internal/obs"
)

// Store is the persistence the invitation lifecycle needs. AcceptInvite is
// one transaction: create the user, mark the invite accepted, write the
// optional initial grant and the audit rows, or none of it.
type Store interface {
	CreateInvite(ctx context.Context, inv Invite) (Invite, error)
	SetInviteToken(ctx context.Context, inviteID, token string) error
	GetInvite(ctx context.Context, inviteID string) (Invite, error)
	// ExpireInvite transitions PENDING to EXPIRED and appends the
	// INVITE_EXPIRED audit row.
	ExpireInvite(ctx context.Context, inviteID string) error
	// AcceptInvite fills the grant template's subject with the new user's
	// id when grant is non-nil.
	AcceptInvite(ctx context.Context, inviteID string, user access.User, grant *access.Grant) (access.User, error)
}

// Service runs the invitation state machine.
type Service struct {
	store   Store
	signer  *TokenSigner
	mailer  mail.Mailer
	baseURL string
	now     func() time.Time
}

// NewService wires the invitation lifecycle. baseURL is used to build
// acceptance links.
func NewService(store Store, signer *TokenSigner, mailer mail.Mailer, baseURL string) (*Service, error) {
	if store == nil || signer == nil {
		return nil, fmt.Errorf("%w: store and signer are required", access.ErrInvalidInput)
	}
	if mailer == nil {
		mailer = mail.Discard{}
	}
	return &Service{
		store:   store,
		signer:  signer,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// Issue creates a PENDING invite, mints its token in a second step (the
// claims embed the row's own id), and dispatches the acceptance mail. Mail
// failure is logged, not surfaced: the invite is already valid.
func (s *Service) Issue(ctx context.Context, actorID, name, email, systemID, roleID string) (Invite, error) {
	actorID = strings.TrimSpace(actorID)
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	systemID = strings.TrimSpace(systemID)
	roleID = strings.TrimSpace(roleID)
	if actorID == "" {
		return Invite{}, access.ErrUnauthenticated
	}
	if name == "" || systemID == "" {
		return Invite{}, fmt.Errorf("%w: name and system id are required", access.ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Invite{}, fmt.Errorf("%w: valid email is required", access.ErrInvalidInput)
	}

	now := s.now().UTC()
	inv := Invite{
		ID:        ids.New(),
		Name:      name,
		Email:     email,
		SystemID:  systemID,
		RoleID:    roleID,
		Status:    StatusPending,
		ExpiresAt: now.Add(TTL),
		InvitedBy: actorID,
		CreatedAt: now,
	}
	inv, err := s.store.CreateInvite(ctx, inv)
	if err != nil {
		return Invite{}, err
	}

	token, err := s.signer.Mint(inv.ID, inv.ExpiresAt)
	if err != nil {
		return Invite{}, err
	}
	if err := s.store.SetInviteToken(ctx, inv.ID, token); err != nil {
		return Invite{}, err
	}
	inv.Token = token

	if err := s.mailer.Send(ctx, s.acceptanceMail(inv)); err != nil {
		obs.Log(map[string]any{
			"ts":        s.now().UTC().Format(time.RFC3339Nano),
			"level":     "error",
			"msg":       "invite mail dispatch failed",
			"invite_id": inv.ID,
			"error":     err.Error(),
		})
	}
	return inv, nil
}

// Accept redeems a token exactly once. Token authenticity is judged first
// (ErrInvalidToken), the row's own expiry second (lazy EXPIRED transition,
// ErrExpired), and single-use last (ErrAlreadyProcessed). A failure midway
// leaves the invite PENDING.
func (s *Service) Accept(ctx context.Context, token, username, password string) (string, error) {
	inviteID, err := s.signer.Verify(token)
	if err != nil {
		return "", err
	}
	inv, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		if access.IsNotFound(err) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if inv.Status != StatusPending {
		return "", ErrAlreadyProcessed
	}
	if inv.CheckExpiry(s.now().UTC()) {
		if err := s.store.ExpireInvite(ctx, inv.ID); err != nil {
			return "", err
		}
		return "", ErrExpired
	}

	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" {
		return "", fmt.Errorf("%w: username is required", access.ErrInvalidInput)
	}
	hash, err := access.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", access.ErrInvalidInput, err)
	}

	user := access.User{
		Username:     username,
		Email:        inv.Email,
		PasswordHash: hash,
		DisplayName:  inv.Name,
		Status:       access.StatusActive,
	}
	var grant *access.Grant
	if inv.RoleID != "" {
		grant = &access.Grant{
			ID:        ids.New(),
			Subject:   access.Subject{Kind: access.SubjectUser}, // id filled by the store
			SystemID:  inv.SystemID,
			RoleID:    inv.RoleID,
			CreatedBy: access.SystemActor,
			CreatedAt: s.now().UTC(),
		}
	}
	created, err := s.store.AcceptInvite(ctx, inv.ID, user, grant)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *Service) acceptanceMail(inv Invite) mail.Message {
	link := fmt.Sprintf("%s/accept-invite?token=%s", s.baseURL, url.QueryEscape(inv.Token))
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>You have been invited to doctrail (%s). The invitation is valid until %s.</p><p><a href=%q>Accept invitation</a></p>",
		inv.Name, inv.SystemID, inv.ExpiresAt.Format("2 Jan 2006 15:04 MST"), link,
	)
	return mail.Message{
		To:       []string{inv.Email},
		Subject:  "You have been invited to doctrail",
		HTMLBody: body,
	}
}
