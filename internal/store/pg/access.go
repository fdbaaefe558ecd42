package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"doctrail.org/internal/access"
	"doctrail.org/internal/ids"
)

var _ access.Store = (*Store)(nil)

// execer covers *sql.DB and *sql.Tx for the audit append helper.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func appendAudit(ctx context.Context, q execer, e access.AuditEntry) (access.AuditEntry, error) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	err := q.QueryRowContext(ctx, `
		insert into permission_audit (id, action, user_id, system_id, role_id, performed_by, details)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning occurred_at
	`, e.ID, e.Action, e.UserID, nullIfEmpty(e.SystemID), nullIfEmpty(e.RoleID), e.PerformedBy, nullIfEmpty(e.Details)).Scan(&e.OccurredAt)
	if err != nil {
		return access.AuditEntry{}, fmt.Errorf("append audit: %w", err)
	}
	return e, nil
}

// --- identity ---

func (s *Store) CreateUser(ctx context.Context, u access.User, performedBy string) (access.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if u.ID == "" {
		u.ID = ids.New()
	}
	row := tx.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash, display_name, status)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.DisplayName, u.Status)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.User{}, fmt.Errorf("%w: username or email already taken", access.ErrConflict)
		}
		return access.User{}, err
	}

	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditUserCreated,
		UserID:      u.ID,
		PerformedBy: performedBy,
		Details:     "user " + u.Username + " created",
	}); err != nil {
		return access.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.User{}, err
	}
	return u, nil
}

const userColumns = `id, username, email, password_hash, display_name, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (access.User, error) {
	var (
		u    access.User
		disp sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &disp, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return access.User{}, err
	}
	if disp.Valid {
		u.DisplayName = disp.String
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (access.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, access.ErrNotFound
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (access.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, access.ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, filter access.UserFilter, page access.Page) ([]access.User, int, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, fmt.Sprintf("(username ilike $%d or email ilike $%d or display_name ilike $%d)", idx, idx, idx))
		args = append(args, "%"+search+"%")
		idx++
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, filter.Status)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`select %s from users%s order by username limit $%d offset $%d`, userColumns, clause, idx, idx+1)
	args = append(args, page.Size, page.Offset())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []access.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID string, status access.Status, action access.AuditAction, performedBy string) (access.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := scanUser(tx.QueryRowContext(ctx, `
		update users set status = $2, updated_at = now()
		where id = $1
		returning `+userColumns+`
	`, userID, status))
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, access.ErrNotFound
	}
	if err != nil {
		return access.User{}, err
	}

	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      action,
		UserID:      userID,
		PerformedBy: performedBy,
		Details:     "status set to " + string(status),
	}); err != nil {
		return access.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.User{}, err
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID, performedBy string) (access.DeletionReceipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.DeletionReceipt{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var receipt access.DeletionReceipt
	var username string
	var disp sql.NullString
	err = tx.QueryRowContext(ctx, `
		select id, username, email, display_name from users where id = $1 for update
	`, userID).Scan(&receipt.ID, &username, &receipt.Email, &disp)
	if errors.Is(err, sql.ErrNoRows) {
		return access.DeletionReceipt{}, access.ErrNotFound
	}
	if err != nil {
		return access.DeletionReceipt{}, err
	}
	if disp.Valid {
		receipt.DisplayName = disp.String
	}

	for _, q := range []string{
		`delete from grants where subject_kind = 'user' and subject_id = $1`,
		`delete from group_members where user_id = $1`,
		`delete from invites where invited_by = $1 or user_id = $1`,
		`delete from users where id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, userID); err != nil {
			return access.DeletionReceipt{}, err
		}
	}

	// Audit rows stay; the entry is attributed to SYSTEM since the user
	// row is gone.
	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditUserDeleted,
		UserID:      access.SystemActor,
		PerformedBy: performedBy,
		Details:     fmt.Sprintf("user %s (%s) deleted", username, receipt.Email),
	}); err != nil {
		return access.DeletionReceipt{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.DeletionReceipt{}, err
	}
	return receipt, nil
}

// --- roles ---

func (s *Store) CreateRole(ctx context.Context, name, description string) (access.Role, error) {
	var (
		role access.Role
		desc sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at
	`, ids.New(), name, nullIfEmpty(description))
	if err := row.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.Role{}, fmt.Errorf("%w: role %s already exists", access.ErrConflict, name)
		}
		return access.Role{}, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (access.Role, error) {
	var (
		role access.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at from roles where id = $1
	`, id).Scan(&role.ID, &role.Name, &desc, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Role{}, access.ErrNotFound
	}
	if err != nil {
		return access.Role{}, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]access.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []access.Role
	for rows.Next() {
		var (
			role access.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// --- groups ---

func (s *Store) CreateGroup(ctx context.Context, name string) (access.Group, error) {
	var group access.Group
	row := s.db.QueryRowContext(ctx, `
		insert into groups (id, name)
		values ($1, $2)
		returning id, name, created_at
	`, ids.New(), name)
	if err := row.Scan(&group.ID, &group.Name, &group.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.Group{}, fmt.Errorf("%w: group %s already exists", access.ErrConflict, name)
		}
		return access.Group{}, err
	}
	return group, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (access.Group, error) {
	var group access.Group
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at from groups where id = $1
	`, id).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Group{}, access.ErrNotFound
	}
	if err != nil {
		return access.Group{}, err
	}
	return group, nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) (access.Membership, error) {
	var m access.Membership
	err := s.db.QueryRowContext(ctx, `
		insert into group_members (user_id, group_id)
		values ($1, $2)
		returning user_id, group_id, created_at
	`, userID, groupID).Scan(&m.UserID, &m.GroupID, &m.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.Membership{}, fmt.Errorf("%w: already a member", access.ErrConflict)
			case pgErrForeignKeyViolation:
				return access.Membership{}, access.ErrNotFound
			}
		}
		return access.Membership{}, err
	}
	return m, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from group_members where user_id = $1 and group_id = $2
	`, userID, groupID)
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

func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select group_id from group_members where user_id = $1 order by group_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// --- grants ---

func (s *Store) CreateGrant(ctx context.Context, g access.Grant) (access.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.Grant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	g, err = insertGrant(ctx, tx, g)
	if err != nil {
		return access.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.Grant{}, err
	}
	return g, nil
}

// insertGrant writes the grant row and its GRANTED audit entry inside the
// caller's transaction. AcceptInvite reuses it.
func insertGrant(ctx context.Context, tx *sql.Tx, g access.Grant) (access.Grant, error) {
	if g.ID == "" {
		g.ID = ids.New()
	}
	err := tx.QueryRowContext(ctx, `
		insert into grants (id, subject_kind, subject_id, system_id, role_id, created_by)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, g.ID, g.Subject.Kind, g.Subject.ID, g.SystemID, g.RoleID, g.CreatedBy).Scan(&g.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.Grant{}, fmt.Errorf("%w: grant already exists", access.ErrConflict)
			case pgErrForeignKeyViolation:
				return access.Grant{}, access.ErrNotFound
			}
		}
		return access.Grant{}, err
	}

	userID := access.SystemActor
	if g.Subject.Kind == access.SubjectUser {
		userID = g.Subject.ID
	}
	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditGranted,
		UserID:      userID,
		SystemID:    g.SystemID,
		RoleID:      g.RoleID,
		PerformedBy: g.CreatedBy,
	}); err != nil {
		return access.Grant{}, err
	}
	return g, nil
}

func (s *Store) DeleteGrant(ctx context.Context, subject access.Subject, grantID, performedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var g access.Grant
	err = tx.QueryRowContext(ctx, `
		delete from grants
		where id = $1 and subject_kind = $2 and subject_id = $3
		returning system_id, role_id
	`, grantID, subject.Kind, subject.ID).Scan(&g.SystemID, &g.RoleID)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	if err != nil {
		return err
	}

	userID := access.SystemActor
	if subject.Kind == access.SubjectUser {
		userID = subject.ID
	}
	if _, err := appendAudit(ctx, tx, access.AuditEntry{
		Action:      access.AuditRevoked,
		UserID:      userID,
		SystemID:    g.SystemID,
		RoleID:      g.RoleID,
		PerformedBy: performedBy,
		Details:     fmt.Sprintf("revoked %s on %s", g.RoleID, g.SystemID),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GrantsForSubject(ctx context.Context, subject access.Subject) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, subject_kind, subject_id, system_id, role_id, created_by, created_at
		from grants
		where subject_kind = $1 and subject_id = $2
		order by created_at, id
	`, subject.Kind, subject.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []access.Grant
	for rows.Next() {
		var g access.Grant
		if err := rows.Scan(&g.ID, &g.Subject.Kind, &g.Subject.ID, &g.SystemID, &g.RoleID, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *Store) RoleNamesFor(ctx context.Context, subjects []access.Subject, systemID string) ([]string, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	var (
		clauses []string
		args    = []any{systemID}
		idx     = 2
	)
	for _, sub := range subjects {
		clauses = append(clauses, fmt.Sprintf("(g.subject_kind = $%d and g.subject_id = $%d)", idx, idx+1))
		args = append(args, sub.Kind, sub.ID)
		idx += 2
	}
	query := fmt.Sprintf(`
		select distinct r.name
		from grants g
		join roles r on r.id = g.role_id
		where g.system_id = $1 and (%s)
	`, strings.Join(clauses, " or "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// --- audit ---

func (s *Store) AppendAudit(ctx context.Context, e access.AuditEntry) (access.AuditEntry, error) {
	return appendAudit(ctx, s.db, e)
}

func (s *Store) ListAudit(ctx context.Context, page access.Page) ([]access.AuditEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from permission_audit`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, action, user_id, system_id, role_id, performed_by, details, occurred_at
		from permission_audit
		order by occurred_at desc, id desc
		limit $1 offset $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []access.AuditEntry
	for rows.Next() {
		var (
			e                     access.AuditEntry
			system, role, details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &system, &role, &e.PerformedBy, &details, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		if system.Valid {
			e.SystemID = system.String
		}
		if role.Valid {
			e.RoleID = role.String
		}
		if details.Valid {
			e.Details = details.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
