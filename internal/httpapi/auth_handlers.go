package httpapi

import (
	"net/http"
	"strings"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	User      auth.User `json:"user"`
}

// handleSignIn authenticates email+password and issues an access token.
// Failures are answered uniformly so the response never reveals whether the
// account exists.
func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.users == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sign-in disabled")
		return
	}

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	fail := func(reason string) {
		audit.Emit(r.Context(), audit.TypeAuth, "SIGN_IN_FAILURE", audit.Entry{
			Metadata: map[string]string{"email": email, "reason": reason},
		})
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
	}

	user, err := a.users.FindUserByEmail(r.Context(), email)
	if err != nil {
		fail("unknown_email")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		fail("bad_password")
		return
	}
	if !user.Active {
		fail("inactive_account")
		return
	}

	token, err := auth.GenerateToken(*user, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	audit.Emit(r.Context(), audit.TypeAuth, "SIGN_IN_SUCCESS", audit.Entry{
		ActorID:   user.ID,
		FactoryID: user.FactoryID,
	})
	writeJSON(w, http.StatusOK, signInResponse{
		Token:     token,
		ExpiresIn: int64(a.tokenTTL.Seconds()),
		User:      *user,
	})
}
