package httpx

import (
	"context"
	"net/http"

	"github.com/kota727/bookstore/internal/orders"
)

// Identity arrives as trusted gateway headers. The auth service in front of
// us has already verified the credential; we only read the result.
const (
	HeaderUserID = "X-User-Id"
	HeaderAdmin  = "X-User-Admin"
)

type ctxKey int

const identityKey ctxKey = iota

// RequireIdentity rejects requests without a caller id and stores the
// identity in the request context.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
			return
		}
		id := orders.Identity{
			UserID:  userID,
			IsAdmin: r.Header.Get(HeaderAdmin) == "true",
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// RequireAdmin must be chained after RequireIdentity.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); !ok || !id.IsAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IdentityFrom(ctx context.Context) (orders.Identity, bool) {
	id, ok := ctx.Value(identityKey).(orders.Identity)
	return id, ok
}
