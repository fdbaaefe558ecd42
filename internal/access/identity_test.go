package access_test

import (
	"context"
	"errors"
	"testing"

	"doctrail.org/internal/access"
)

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"empty username", "", "a@b.c", "s3cret-pass"},
		{"empty email", "alice", "", "s3cret-pass"},
		{"malformed email", "alice", "not-an-email", "s3cret-pass"},
		{"empty password", "alice", "a@b.c", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.identity.CreateUser(ctx, access.SystemActor, tc.username, tc.email, tc.password, "")
			if !errors.Is(err, access.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateUserNormalizesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.identity.CreateUser(ctx, "admin-1", "  Alice ", " ALICE@Example.COM ", "s3cret-pass", " Alice A. ")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Username != "alice" || u.Email != "alice@example.com" {
		t.Fatalf("not normalized: %q %q", u.Username, u.Email)
	}
	if u.Status != access.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", u.Status)
	}

	trail := f.store.AuditTrail()
	last := trail[len(trail)-1]
	if last.Action != access.AuditUserCreated || last.PerformedBy != "admin-1" {
		t.Fatalf("unexpected audit row: %+v", last)
	}
}

func TestDuplicateUserConflicts(t *testing.T) {
	f := newFixture(t)
	f.user("alice")
	_, err := f.identity.CreateUser(context.Background(), access.SystemActor, "alice", "other@example.com", "s3cret-pass", "")
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateStatusSameStateRejected(t *testing.T) {
	f := newFixture(t)
	u := f.user("bob")
	_, err := f.identity.UpdateStatus(context.Background(), access.SystemActor, u.ID, access.StatusActive)
	if !errors.Is(err, access.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestReactivateAlreadyActiveConflicts(t *testing.T) {
	f := newFixture(t)
	u := f.user("carol")
	_, err := f.identity.Reactivate(context.Background(), access.SystemActor, u.ID)
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSuspendThenReactivate(t *testing.T) {
	f := newFixture(t)
	u := f.user("dave")
	ctx := context.Background()

	if _, err := f.identity.UpdateStatus(ctx, access.SystemActor, u.ID, access.StatusSuspended); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := f.identity.Reactivate(ctx, access.SystemActor, u.ID)
	if err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if got.Status != access.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}

	trail := f.store.AuditTrail()
	last := trail[len(trail)-1]
	if last.Action != access.AuditUserReactivated {
		t.Fatalf("expected USER_REACTIVATED, got %s", last.Action)
	}
}

func TestDeleteSelfRejected(t *testing.T) {
	f := newFixture(t)
	u := f.user("erin")
	_, err := f.identity.Delete(context.Background(), u.ID, u.ID)
	if !errors.Is(err, access.ErrSelfDeletion) {
		t.Fatalf("expected ErrSelfDeletion, got %v", err)
	}
}

func TestDeleteMasterAdminProtected(t *testing.T) {
	f := newFixture(t)
	u := f.user("frank")
	role := f.role(access.RoleMasterAdmin)
	ctx := context.Background()

	if _, err := f.ledger.Grant(ctx, access.SystemActor, access.UserSubject(u.ID), "user-management", role.ID); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	_, err := f.identity.Delete(ctx, "someone-else", u.ID)
	if !errors.Is(err, access.ErrProtectedAccount) {
		t.Fatalf("expected ErrProtectedAccount, got %v", err)
	}
}

func TestDeleteCascadesButKeepsAudit(t *testing.T) {
	f := newFixture(t)
	actor := f.user("admin")
	u := f.user("grace")
	g := f.group("Writers")
	role := f.role(access.RoleUser)
	ctx := context.Background()

	if _, err := f.identity.AddMember(ctx, g.ID, u.ID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := f.ledger.Grant(ctx, access.SystemActor, access.UserSubject(u.ID), "doc-archive", role.ID); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	auditBefore := len(f.store.AuditTrail())

	receipt, err := f.identity.Delete(ctx, actor.ID, u.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if receipt.Email != "grace@example.com" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	if _, err := f.identity.Get(ctx, u.ID); !access.IsNotFound(err) {
		t.Fatalf("expected user gone, got %v", err)
	}
	grants, err := f.ledger.List(ctx, access.UserSubject(u.ID))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected grants cascaded, got %d", len(grants))
	}

	trail := f.store.AuditTrail()
	if len(trail) != auditBefore+1 {
		t.Fatalf("expected exactly one new audit row, got %d", len(trail)-auditBefore)
	}
	last := trail[len(trail)-1]
	if last.Action != access.AuditUserDeleted {
		t.Fatalf("expected USER_DELETED, got %s", last.Action)
	}
	if last.UserID != access.SystemActor {
		t.Fatalf("deletion row must be attributed to SYSTEM, got %s", last.UserID)
	}
	if last.PerformedBy != actor.ID {
		t.Fatalf("performed_by must be the actor, got %s", last.PerformedBy)
	}
}

func TestListUsersSearchAndPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"anna", "annette", "bob"} {
		f.user(name)
	}

	users, pagination, err := f.identity.List(ctx, access.UserFilter{Search: "ann"}, access.Page{Number: 1, Size: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if pagination.Total != 2 || pagination.TotalPages != 2 {
		t.Fatalf("unexpected pagination: %+v", pagination)
	}
	if len(users) != 1 || users[0].Username != "anna" {
		t.Fatalf("unexpected page: %+v", users)
	}

	_, _, err = f.identity.List(ctx, access.UserFilter{Status: access.Status("BOGUS")}, access.Page{})
	if !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad status filter, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u := f.user("henry")
	ctx := context.Background()

	got, err := f.identity.Login(ctx, "henry", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("unexpected user: %s", got.ID)
	}

	if _, err := f.identity.Login(ctx, "henry", "wrong"); !errors.Is(err, access.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := f.identity.Login(ctx, "nobody", "whatever"); !errors.Is(err, access.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown user, got %v", err)
	}

	if _, err := f.identity.UpdateStatus(ctx, access.SystemActor, u.ID, access.StatusInactive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.identity.Login(ctx, "henry", "s3cret-pass"); !errors.Is(err, access.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for inactive user, got %v", err)
	}
}
