package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"doctrail.org/internal/access"
)

func TestCreateRoleDuplicateConflicts(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)

	resp := api.post("/v1/roles", map[string]any{"name": "Auditor"}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/roles", map[string]any{"name": "Auditor"}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestListRolesSorted(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)

	for _, name := range []string{"Zeta", "Alpha"} {
		resp := api.post("/v1/roles", map[string]any{"name": name}, token)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: got %d", name, resp.StatusCode)
		}
	}

	resp := api.get("/v1/roles", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Roles []access.Role `json:"roles"`
	}
	decodeBody(t, resp, &payload)
	for i := 1; i < len(payload.Roles); i++ {
		if payload.Roles[i-1].Name > payload.Roles[i].Name {
			t.Fatalf("roles not sorted: %v", payload.Roles)
		}
	}
}

func TestGroupMembershipInheritsGrants(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)
	member, _ := api.seedUserWithRole("gina", access.RoleUser)

	resp := api.post("/v1/groups", map[string]any{"name": "Operators"}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var group access.Group
	decodeBody(t, resp, &group)

	resp = api.post("/v1/groups/"+group.ID+"/members", map[string]any{"user_id": member.ID}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add member: got %d", resp.StatusCode)
	}

	// grant Manager on the management system to the whole group; the
	// member gains write access with zero direct grants on it
	managerRole, err := api.store.CreateRole(context.Background(), access.RoleManager, "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	resp = api.post("/v1/groups/"+group.ID+"/grants", map[string]any{
		"system_id": SystemUserManagement,
		"role_id":   managerRole.ID,
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("group grant: got %d", resp.StatusCode)
	}

	memberToken, _, err := api.sessions.Mint(member.ID)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	resp = api.post("/v1/groups", map[string]any{"name": "Second"}, memberToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("member should inherit write via group, got %d", resp.StatusCode)
	}

	// removing the member severs the inherited access
	resp = api.do(http.MethodDelete, "/v1/groups/"+group.ID+"/members/"+member.ID, nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove member: got %d", resp.StatusCode)
	}
	resp = api.post("/v1/groups", map[string]any{"name": "Third"}, memberToken)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 after removal, got %d", resp.StatusCode)
	}
}

func TestDuplicateGroupMemberConflicts(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)
	member, _ := api.seedUserWithRole("henry", access.RoleUser)

	resp := api.post("/v1/groups", map[string]any{"name": "Writers"}, token)
	var group access.Group
	decodeBody(t, resp, &group)

	resp = api.post("/v1/groups/"+group.ID+"/members", map[string]any{"user_id": member.ID}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add member: got %d", resp.StatusCode)
	}
	resp = api.post("/v1/groups/"+group.ID+"/members", map[string]any{"user_id": member.ID}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAuditListingNewestFirst(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)

	resp := api.post("/v1/roles", map[string]any{"name": "Auditor"}, token)
	resp.Body.Close()

	resp = api.get("/v1/audit", url.Values{"page": {"1"}, "page_size": {"50"}}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Entries    []access.AuditEntry `json:"entries"`
		Pagination access.Pagination   `json:"pagination"`
	}
	decodeBody(t, resp, &payload)
	if len(payload.Entries) == 0 {
		t.Fatal("expected audit entries from seeding")
	}
	if payload.Pagination.Total != len(payload.Entries) {
		t.Fatalf("pagination total %d != %d entries", payload.Pagination.Total, len(payload.Entries))
	}
}
