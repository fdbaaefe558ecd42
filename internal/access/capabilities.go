package access

import "strings"

// Action is one of the closed set of operations the authorization engine
// decides on. New actions are added here and in roleCapabilities.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// ValidAction reports whether a belongs to the closed action set.
func ValidAction(a Action) bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete:
		return true
	}
	return false
}

// Well-known role names. Roles are rows in the store, but what a role may
// do is this static table; an unknown role name grants nothing.
const (
	RoleMasterAdmin = "Master Admin"
	RoleAdmin       = "Admin"
	RoleManager     = "Manager"
	RoleUser        = "User"
)

var roleCapabilities = map[string]map[Action]struct{}{
	RoleMasterAdmin: {ActionRead: {}, ActionWrite: {}, ActionDelete: {}},
	RoleAdmin:       {ActionRead: {}, ActionWrite: {}, ActionDelete: {}},
	RoleManager:     {ActionRead: {}, ActionWrite: {}},
	RoleUser:        {ActionRead: {}},
}

// RoleAllows reports whether a role of the given name permits the action.
// Lookup is case-insensitive on the role name.
func RoleAllows(roleName string, action Action) bool {
	for name, caps := range roleCapabilities {
		if strings.EqualFold(name, roleName) {
			_, ok := caps[action]
			return ok
		}
	}
	return false
}

// RoleActions returns the action set for a role name, for introspection
// endpoints. Nil for unknown roles.
func RoleActions(roleName string) []Action {
	for name, caps := range roleCapabilities {
		if strings.EqualFold(name, roleName) {
			out := make([]Action, 0, len(caps))
			for _, a := range []Action{ActionRead, ActionWrite, ActionDelete} {
				if _, ok := caps[a]; ok {
					out = append(out, a)
				}
			}
			return out
		}
	}
	return nil
}
