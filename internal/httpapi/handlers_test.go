package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"doctrail.org/internal/access"
	"doctrail.org/internal/invite"
	"doctrail.org/internal/store/memory"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	store    *memory.Store
	sessions *access.TokenSigner
	identity *access.Identity
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := memory.New()
	identity, err := access.NewIdentity(store)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	ledger, err := access.NewLedger(store)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	engine, err := access.NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	sessions, err := access.NewTokenSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	inviteSigner, err := invite.NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("invite.NewTokenSigner: %v", err)
	}
	invites, err := invite.NewService(store, inviteSigner, nil, "http://localhost:8080")
	if err != nil {
		t.Fatalf("invite.NewService: %v", err)
	}

	api := New(ReadyProbe{}, "test", Deps{
		Identity: identity,
		Ledger:   ledger,
		Engine:   engine,
		Sessions: sessions,
		Invites:  invites,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		store:    store,
		sessions: sessions,
		identity: identity,
	}
}

// seedUserWithRole creates a user holding roleName on the management
// system and returns the user and a session token.
func (c *apiClient) seedUserWithRole(username, roleName string) (access.User, string) {
	c.t.Helper()
	ctx := context.Background()

	role, err := c.store.CreateRole(ctx, roleName, "")
	if err != nil {
		role, err = c.findRole(roleName)
		if err != nil {
			c.t.Fatalf("CreateRole: %v", err)
		}
	}
	user, err := c.identity.CreateUser(ctx, access.SystemActor, username, username+"@example.com", "s3cret-pass", username)
	if err != nil {
		c.t.Fatalf("CreateUser: %v", err)
	}
	_, err = c.store.CreateGrant(ctx, access.Grant{
		Subject:   access.UserSubject(user.ID),
		SystemID:  SystemUserManagement,
		RoleID:    role.ID,
		CreatedBy: access.SystemActor,
	})
	if err != nil {
		c.t.Fatalf("CreateGrant: %v", err)
	}
	token, _, err := c.sessions.Mint(user.ID)
	if err != nil {
		c.t.Fatalf("Mint: %v", err)
	}
	return user, token
}

func (c *apiClient) findRole(name string) (access.Role, error) {
	roles, err := c.store.ListRoles(context.Background())
	if err != nil {
		return access.Role{}, err
	}
	for _, r := range roles {
		if r.Name == name {
			return r, nil
		}
	}
	return access.Role{}, access.ErrNotFound
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/users", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	api := newTestAPI(t)
	api.seedUserWithRole("alice", access.RoleAdmin)

	resp := api.post("/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "s3cret-pass",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload loginResponse
	decodeBody(t, resp, &payload)
	if payload.Token == "" {
		t.Fatal("expected a session token")
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "wrong",
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSuspendedUserCannotLogin(t *testing.T) {
	api := newTestAPI(t)
	user, _ := api.seedUserWithRole("bob", access.RoleUser)
	if _, err := api.identity.UpdateStatus(context.Background(), access.SystemActor, user.ID, access.StatusSuspended); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	resp := api.post("/v1/auth/login", map[string]any{
		"username": "bob",
		"password": "s3cret-pass",
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestReadOnlyRoleDeniedWrite(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("viewer", access.RoleUser)

	resp := api.get("/v1/users", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected read to succeed, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/roles", map[string]any{"name": "Auditor"}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestGrantRevokeOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)
	target, _ := api.seedUserWithRole("carol", access.RoleUser)
	role, err := api.findRole(access.RoleUser)
	if err != nil {
		t.Fatalf("findRole: %v", err)
	}

	resp := api.post("/v1/users/"+target.ID+"/grants", map[string]any{
		"system_id": "doc-archive",
		"role_id":   role.ID,
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var grant access.Grant
	decodeBody(t, resp, &grant)
	if grant.ID == "" || grant.SystemID != "doc-archive" {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	resp = api.do(http.MethodDelete, "/v1/users/"+target.ID+"/grants/"+grant.ID, nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// double revoke
	resp = api.do(http.MethodDelete, "/v1/users/"+target.ID+"/grants/"+grant.ID, nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteSelfRejected(t *testing.T) {
	api := newTestAPI(t)
	admin, token := api.seedUserWithRole("admin", access.RoleAdmin)

	resp := api.do(http.MethodDelete, "/v1/users/"+admin.ID, nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpdateStatusInvalidEnum(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)
	target, _ := api.seedUserWithRole("dave", access.RoleUser)

	resp := api.do(http.MethodPut, "/v1/users/"+target.ID+"/status", map[string]any{
		"status": "FROZEN",
	}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReactivateAlreadyActiveConflicts(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)
	target, _ := api.seedUserWithRole("erin", access.RoleUser)

	resp := api.post("/v1/users/"+target.ID+"/reactivate", nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestInviteFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedUserWithRole("admin", access.RoleAdmin)
	role, err := api.findRole(access.RoleAdmin)
	if err != nil {
		t.Fatalf("findRole: %v", err)
	}

	resp := api.post("/v1/users/invite", map[string]any{
		"name":      "Frank",
		"email":     "frank@example.com",
		"system_id": "doc-archive",
		"role_id":   role.ID,
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var issued struct {
		InviteID string `json:"invite_id"`
	}
	decodeBody(t, resp, &issued)
	if issued.InviteID == "" {
		t.Fatal("expected an invite id")
	}

	inv, err := api.store.GetInvite(context.Background(), issued.InviteID)
	if err != nil {
		t.Fatalf("GetInvite: %v", err)
	}

	// acceptance is public: no Authorization header
	resp = api.post("/v1/users/accept-invite", map[string]any{
		"token":    inv.Token,
		"username": "frank",
		"password": "franks-pass",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var accepted struct {
		UserID string `json:"user_id"`
	}
	decodeBody(t, resp, &accepted)
	if accepted.UserID == "" {
		t.Fatal("expected a user id")
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"username": "frank",
		"password": "franks-pass",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new user should be able to login, got %d", resp.StatusCode)
	}

	// a second accept of the same token must not create another user
	resp = api.post("/v1/users/accept-invite", map[string]any{
		"token":    inv.Token,
		"username": "frank2",
		"password": "franks-pass",
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAcceptInviteInvalidToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/users/accept-invite", map[string]any{
		"token":    "not-a-token",
		"username": "mallory",
		"password": "whatever-pass",
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
