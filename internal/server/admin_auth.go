package server

import (
	"errors"
	"net/http"

	"github.com/foxhuntgame/foxhunt/internal/store"
)

var errNoAdminSession = errors.New("no valid admin session")

const adminCookieName = "admin_session"

// adminFromRequest reads the admin_session cookie and resolves it to an
// admin identity.
func adminFromRequest(r *http.Request, admin store.AdminStore) (store.AdminIdentity, error) {
	cookie, err := r.Cookie(adminCookieName)
	if err != nil || cookie.Value == "" {
		return store.AdminIdentity{}, errNoAdminSession
	}

	id, err := admin.AdminBySession(r.Context(), cookie.Value)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdminIdentity{}, errNoAdminSession
	}
	return id, err
}

func adminAuthMiddleware(admin store.AdminStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := adminFromRequest(r, admin); err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
