package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/users/01ABC":                 "/v1/users/:id",
		"/v1/users/01ABC/reactivate":      "/v1/users/:id/reactivate",
		"/v1/users/01ABC/grants/01DEF":    "/v1/users/:id/grants/:id",
		"/v1/groups/01ABC/members/01DEF":  "/v1/groups/:id/members/:id",
		"/v1/users":                       "/v1/users",
		"/v1/audit":                       "/v1/audit",
		"/v1/users/accept-invite":         "/v1/users/:id",
		"/v1/users?search=bob&page=2":     "/v1/users",
		"/v1/roles/01ABC":                 "/v1/roles/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
