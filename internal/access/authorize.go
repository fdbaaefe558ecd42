package access

import (
	"context"
	"fmt"
	"strings"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Engine decides allow/deny for (caller, action, system) requests. It is a
// pure read path: grants can change between requests, so every call
// re-resolves against the store and nothing is cached.
type Engine struct {
	store Store
}

// NewEngine constructs an authorization engine backed by the given store.
func NewEngine(store Store) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Engine{store: store}, nil
}

// Authorize resolves direct grants first, then grants inherited through
// group membership. The error return is for storage failures only; an
// unauthenticated or unauthorized caller is a Decision, not an error.
func (e *Engine) Authorize(ctx context.Context, callerID string, action Action, systemID string) (Decision, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return deny("unauthenticated"), nil
	}
	if !ValidAction(action) {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	systemID = strings.TrimSpace(systemID)
	if systemID == "" {
		return Decision{}, fmt.Errorf("%w: system id is required", ErrInvalidInput)
	}

	roles, err := e.store.RoleNamesFor(ctx, []Subject{UserSubject(callerID)}, systemID)
	if err != nil {
		return Decision{}, err
	}
	if anyRoleAllows(roles, action) {
		return allow(), nil
	}

	groupIDs, err := e.store.GroupsForUser(ctx, callerID)
	if err != nil {
		return Decision{}, err
	}
	if len(groupIDs) > 0 {
		subjects := make([]Subject, 0, len(groupIDs))
		for _, id := range groupIDs {
			subjects = append(subjects, GroupSubject(id))
		}
		roles, err = e.store.RoleNamesFor(ctx, subjects, systemID)
		if err != nil {
			return Decision{}, err
		}
		if anyRoleAllows(roles, action) {
			return allow(), nil
		}
	}

	return deny("forbidden"), nil
}

func anyRoleAllows(roleNames []string, action Action) bool {
	for _, name := range roleNames {
		if RoleAllows(name, action) {
			return true
		}
	}
	return false
}
