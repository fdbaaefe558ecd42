package httpapi

import (
	"net/http"
	"strings"

	"doctrail.org/internal/access"
	"doctrail.org/internal/audit"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensureAuthorized(w, r, access.ActionRead); !ok {
			return
		}
		roles, err := a.identity.ListRoles(r.Context())
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if _, ok := a.ensureAuthorized(w, r, access.ActionWrite); !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.identity.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.create", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		w.Header().Set("Location", "/v1/roles/"+role.ID)
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensureAuthorized(w, r, access.ActionWrite); !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	group, err := a.identity.CreateGroup(r.Context(), req.Name)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.create", map[string]any{
		"group_id": group.ID,
		"name":     group.Name,
	})
	w.Header().Set("Location", "/v1/groups/"+group.ID)
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) handleGroupScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/groups/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	groupID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "members":
		a.addGroupMember(w, r, groupID)
	case len(parts) == 3 && parts[1] == "members":
		a.removeGroupMember(w, r, groupID, parts[2])
	case len(parts) == 2 && parts[1] == "grants":
		a.handleSubjectGrants(w, r, access.GroupSubject(groupID))
	case len(parts) == 3 && parts[1] == "grants":
		a.revokeGrant(w, r, access.GroupSubject(groupID), parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) addGroupMember(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensureAuthorized(w, r, access.ActionWrite); !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	m, err := a.identity.AddMember(r.Context(), groupID, req.UserID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.member.add", map[string]any{
		"group_id": groupID,
		"user_id":  m.UserID,
	})
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) removeGroupMember(w http.ResponseWriter, r *http.Request, groupID, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if _, ok := a.ensureAuthorized(w, r, access.ActionWrite); !ok {
		return
	}
	if err := a.identity.RemoveMember(r.Context(), groupID, userID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "group.member.remove", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensureAuthorized(w, r, access.ActionRead); !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, pagination, err := a.identity.Audit(r.Context(), page)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": pagination,
	})
}
