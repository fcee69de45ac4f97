package auth

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

const sessionCookie = "sid"

type sessionKey struct{}

// Session gives every visitor a stable identifier whether or not they are
// logged in. Anonymous callers get a random xid in a "sid" cookie on their
// first request; the rate limiter buckets on it so one anonymous visitor
// cannot consume another's quota. It must run after OptionalAuth so a real
// user ID wins when present.
func Session() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := ""
			if cookie, err := r.Cookie(sessionCookie); err == nil {
				sid = cookie.Value
			}
			if sid == "" {
				sid = xid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    sid,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID is the identity execution quota is charged to: the authenticated
// user ID when present, the anonymous session ID otherwise. The "anon:"
// prefix keeps the two namespaces from ever colliding.
func CallerID(ctx context.Context) string {
	if userID, ok := UserIDFromContext(ctx); ok {
		return userID
	}
	if sid, ok := ctx.Value(sessionKey{}).(string); ok && sid != "" {
		return "anon:" + sid
	}
	return "anon:unknown"
}
