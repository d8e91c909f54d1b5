package app

import (
	"net/http"
	"strings"

	"github.com/driftwood-social/driftwood/internal/shared"
)

// ActorHeader carries the authenticated user ID resolved by the fronting
// auth layer. Authentication itself happens outside this service.
const ActorHeader = "X-Actor-Id"

// ActorMiddleware lifts the actor header into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor != "" {
			r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
