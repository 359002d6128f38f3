package httpapi

import (
	"net/http"
	"strings"
	"time"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/ids"
)

type createUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FactoryID string `json:"factory_id,omitempty"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createUser(w, r)
	case http.MethodGet:
		a.listUsers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/role") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/role"), "/")
		if id == "" || r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.updateUserRole(w, r, id)
		return
	}
	if strings.HasSuffix(path, "/status") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/status"), "/")
		if id == "" || r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.updateUserStatus(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getUser(w, r, path)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	role := auth.Role(strings.TrimSpace(req.Role))
	if !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, r, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	factoryID := strings.TrimSpace(req.FactoryID)
	if role != auth.RoleAdmin && factoryID == "" {
		writeError(w, r, http.StatusBadRequest, "factory_id is required for factory roles")
		return
	}
	if d := auth.Authorize(principal, auth.PermUsersCreate, factoryID); d.Denied() {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	now := time.Now().UTC()
	user := auth.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FactoryID:    factoryID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.users.CreateUser(r.Context(), &user); err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.Emit(r.Context(), audit.TypeAuth, "USER_CREATED", audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    factoryID,
		ResourceType: "user",
		ResourceID:   user.ID,
		Metadata:     map[string]string{"role": string(role)},
	})
	w.Header().Set("Location", "/v1/admin/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	user, err := a.users.FindUser(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if d := auth.Authorize(principal, auth.PermUsersRead, user.FactoryID); d.Denied() {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	factoryID := strings.TrimSpace(r.URL.Query().Get("factory_id"))
	if d := auth.Authorize(principal, auth.PermUsersRead, factoryID); d.Denied() {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}
	users, err := a.users.ListUsersByFactory(r.Context(), factoryID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) updateUserRole(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := auth.Role(strings.TrimSpace(req.Role))
	if !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}

	user, err := a.users.FindUser(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if d := auth.Authorize(principal, auth.PermUsersUpdate, user.FactoryID); d.Denied() {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.users.UpdateUserRole(r.Context(), id, role); err != nil {
		handleDomainError(w, r, err)
		return
	}

	audit.Emit(r.Context(), audit.TypeAuth, "USER_ROLE_CHANGED", audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    user.FactoryID,
		ResourceType: "user",
		ResourceID:   id,
		Metadata:     map[string]string{"from": string(user.Role), "to": string(role)},
	})
	user.Role = role
	writeJSON(w, http.StatusOK, user)
}

type updateUserStatusRequest struct {
	Active bool `json:"active"`
}

func (a *API) updateUserStatus(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req updateUserStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.users.FindUser(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if d := auth.Authorize(principal, auth.PermUsersUpdate, user.FactoryID); d.Denied() {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.users.UpdateUserStatus(r.Context(), id, req.Active); err != nil {
		handleDomainError(w, r, err)
		return
	}

	event := "USER_DEACTIVATED"
	if req.Active {
		event = "USER_ACTIVATED"
	}
	audit.Emit(r.Context(), audit.TypeSecurity, event, audit.Entry{
		ActorID:      principal.UserID,
		FactoryID:    user.FactoryID,
		ResourceType: "user",
		ResourceID:   id,
	})
	user.Active = req.Active
	writeJSON(w, http.StatusOK, user)
}
