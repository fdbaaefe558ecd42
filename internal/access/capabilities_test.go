package access

import (
	"reflect"
	"testing"
)

func TestRoleAllows(t *testing.T) {
	cases := []struct {
		role   string
		action Action
		want   bool
	}{
		{RoleMasterAdmin, ActionDelete, true},
		{RoleAdmin, ActionDelete, true},
		{RoleManager, ActionWrite, true},
		{RoleManager, ActionDelete, false},
		{RoleUser, ActionRead, true},
		{RoleUser, ActionWrite, false},
		{"manager", ActionWrite, true},
		{"MASTER ADMIN", ActionDelete, true},
		{"Archivist", ActionRead, false},
		{"", ActionRead, false},
	}
	for _, tc := range cases {
		if got := RoleAllows(tc.role, tc.action); got != tc.want {
			t.Errorf("RoleAllows(%q, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestRoleActions(t *testing.T) {
	if got := RoleActions("manager"); !reflect.DeepEqual(got, []Action{ActionRead, ActionWrite}) {
		t.Fatalf("unexpected manager actions: %v", got)
	}
	if got := RoleActions("Archivist"); got != nil {
		t.Fatalf("expected nil for unknown role, got %v", got)
	}
}

func TestValidAction(t *testing.T) {
	for _, a := range []Action{ActionRead, ActionWrite, ActionDelete} {
		if !ValidAction(a) {
			t.Errorf("ValidAction(%s) = false", a)
		}
	}
	if ValidAction("admin") {
		t.Error("ValidAction(admin) = true")
	}
}
