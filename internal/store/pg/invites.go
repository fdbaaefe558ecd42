package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"doctrail.org/internal/access"
	"doctrail.org/internal/ids"
	"doctrail.org/internal/invite"
)

var _ invite.Store = (*Store)(nil)

func (s *Store) CreateInvite(ctx context.Context, inv invite.Invite) (invite.Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return invite.Invite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if inv.ID == "" {
		inv.ID = ids.New()
	}
	row := tx.QueryRowContext(ctx, `
		insert into invites (id, name, email, system_id, role_id, status, expires_at, invited_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, inv.ID, inv.Name, inv.Email, nullIfEmpty(inv.SystemID), nullIfEmpty(inv.RoleID), inv.Status, inv.ExpiresAt, inv.InvitedBy)
	if err := row.Scan(&inv.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return invite.Invite{}, fmt.Errorf("%w: pending invite for %s already exists", access.ErrConflict, inv.Email)
			case pgErrForeignKeyViolation:
				return invite.Invite{}, access.ErrNotFound
			}
		}
		return invite.Invite{}, err
	}

	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditInviteIssued,
		UserID:      access.SystemActor,
		SystemID:    inv.SystemID,
		RoleID:      inv.RoleID,
		PerformedBy: inv.InvitedBy,
		Details:     "invite issued to " + inv.Email,
	}); err != nil {
		return invite.Invite{}, err
	}
	if err := tx.Commit(); err != nil {
		return invite.Invite{}, err
	}
	return inv, nil
}

func (s *Store) SetInviteToken(ctx context.Context, inviteID, token string) error {
	res, err := s.db.ExecContext(ctx, `
		update invites set token = $2 where id = $1
	`, inviteID, token)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *Store) GetInvite(ctx context.Context, inviteID string) (invite.Invite, error) {
	var (
		inv                         invite.Invite
		system, role, token, userID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, email, system_id, role_id, token, status, expires_at, invited_by, user_id, created_at
		from invites where id = $1
	`, inviteID).Scan(&inv.ID, &inv.Name, &inv.Email, &system, &role, &token, &inv.Status, &inv.ExpiresAt, &inv.InvitedBy, &userID, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return invite.Invite{}, access.ErrNotFound
	}
	if err != nil {
		return invite.Invite{}, err
	}
	if system.Valid {
		inv.SystemID = system.String
	}
	if role.Valid {
		inv.RoleID = role.String
	}
	if token.Valid {
		inv.Token = token.String
	}
	if userID.Valid {
		inv.UserID = userID.String
	}
	return inv, nil
}

func (s *Store) ExpireInvite(ctx context.Context, inviteID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		email  string
		system sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		update invites set status = $2
		where id = $1 and status = $3
		returning email, system_id
	`, inviteID, invite.StatusExpired, invite.StatusPending).Scan(&email, &system)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: invite is not pending", access.ErrConflict)
	}
	if err != nil {
		return err
	}

	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditInviteExpired,
		UserID:      access.SystemActor,
		SystemID:    system.String,
		PerformedBy: access.SystemActor,
		Details:     "invite for " + email + " expired",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AcceptInvite(ctx context.Context, inviteID string, user access.User, grant *access.Grant) (access.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if user.ID == "" {
		user.ID = ids.New()
	}
	row := tx.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash, display_name, status)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.DisplayName, user.Status)
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.User{}, fmt.Errorf("%w: username or email already taken", access.ErrConflict)
		}
		return access.User{}, err
	}

	var system, role sql.NullString
	err = tx.QueryRowContext(ctx, `
		update invites set status = $2, user_id = $3
		where id = $1 and status = $4
		returning system_id, role_id
	`, inviteID, invite.StatusAccepted, user.ID, invite.StatusPending).Scan(&system, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, fmt.Errorf("%w: invite is not pending", access.ErrConflict)
	}
	if err != nil {
		return access.User{}, err
	}

	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditInviteAccepted,
		UserID:      user.ID,
		SystemID:    system.String,
		RoleID:      role.String,
		PerformedBy: access.SystemActor,
		Details:     "invite accepted by " + user.Username,
	}); err != nil {
		return access.User{}, err
	}

	if grant != nil {
		g := *grant
		g.Subject = access.UserSubject(user.ID)
		if _, err := insertGrant(ctx, tx, g); err != nil {
			return access.User{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return access.User{}, err
	}
	return user, nil
}
