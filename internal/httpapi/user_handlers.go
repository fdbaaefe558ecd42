package httpapi

import (
	"net/http"
	"strings"

	"doctrail.org/internal/access"
	"doctrail.org/internal/audit"
)

type createUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type inviteRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	SystemID string `json:"system_id"`
	RoleID   string `json:"role_id"`
}

type acceptInviteRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type grantRequest struct {
	SystemID string `json:"system_id"`
	RoleID   string `json:"role_id"`
}

type listUsersResponse struct {
	Users      []access.User     `json:"users"`
	Pagination access.Pagination `json:"pagination"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	switch parts[0] {
	case "invite":
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.issueInvite(w, r)
		return
	case "accept-invite":
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.acceptInvite(w, r)
		return
	}

	userID := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, userID)
		case http.MethodDelete:
			a.deleteUser(w, r, userID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "status":
		a.updateUserStatus(w, r, userID)
	case len(parts) == 2 && parts[1] == "reactivate":
		a.reactivateUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "grants":
		a.handleSubjectGrants(w, r, access.UserSubject(userID))
	case len(parts) == 3 && parts[1] == "grants":
		a.revokeGrant(w, r, access.UserSubject(userID), parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensureAuthorized(w, r, access.ActionRead); !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := access.UserFilter{
		Search: r.URL.Query().Get("search"),
		Status: access.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))),
	}
	users, pagination, err := a.identity.List(r.Context(), filter, page)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Users: users, Pagination: pagination})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := a.ensureAuthorized(w, r, access.ActionWrite)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.identity.CreateUser(r.Context(), actorID, req.Username, req.Email, req.Password, req.DisplayName)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := a.ensureAuthorized(w, r, access.ActionRead); !ok {
		return
	}
	user, err := a.identity.Get(r.Context(), userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, userID string) {
	actorID, ok := a.ensureAuthorized(w, r, access.ActionDelete)
	if !ok {
		return
	}
	receipt, err := a.identity.Delete(r.Context(), actorID, userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{
		"user_id": receipt.ID,
		"email":   receipt.Email,
	})
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) updateUserStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actorID, ok := a.ensureAuthorized(w, r, access.ActionWrite)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := access.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !access.ValidStatus(status) {
		writeError(w, r, http.StatusBadRequest, "invalid status")
		return
	}
	user, err := a.identity.UpdateStatus(r.Context(), actorID, userID, status)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.status.update", map[string]any{
		"user_id": user.ID,
		"status":  string(user.Status),
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) reactivateUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := a.ensureAuthorized(w, r, access.ActionWrite)
	if !ok {
		return
	}
	user, err := a.identity.Reactivate(r.Context(), actorID, userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.reactivate", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) issueInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := a.ensureAuthorized(w, r, access.ActionWrite)
	if !ok {
		return
	}
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := a.invites.Issue(r.Context(), actorID, req.Name, req.Email, req.SystemID, req.RoleID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invite.issue", map[string]any{
		"invite_id": inv.ID,
		"email":     inv.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{"invite_id": inv.ID})
}

func (a *API) acceptInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := a.invites.Accept(r.Context(), req.Token, req.Username, req.Password)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invite.accept", map[string]any{
		"user_id": userID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID})
}

// handleSubjectGrants serves the grants collection for a user or group
// subject.
func (a *API) handleSubjectGrants(w http.ResponseWriter, r *http.Request, subject access.Subject) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensureAuthorized(w, r, access.ActionRead); !ok {
			return
		}
		grants, err := a.ledger.List(r.Context(), subject)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
	case http.MethodPost:
		actorID, ok := a.ensureAuthorized(w, r, access.ActionWrite)
		if !ok {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.ledger.Grant(r.Context(), actorID, subject, req.SystemID, req.RoleID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "grant.create", map[string]any{
			"grant_id":     grant.ID,
			"subject_kind": string(subject.Kind),
			"subject_id":   subject.ID,
			"system_id":    grant.SystemID,
		})
		writeJSON(w, http.StatusCreated, grant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, subject access.Subject, grantID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actorID, ok := a.ensureAuthorized(w, r, access.ActionWrite)
	if !ok {
		return
	}
	if err := a.ledger.Revoke(r.Context(), actorID, subject, grantID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "grant.revoke", map[string]any{
		"grant_id":     grantID,
		"subject_kind": string(subject.Kind),
		"subject_id":   subject.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}
