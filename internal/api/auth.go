package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/crisos/relayd/internal/relay"
)

// Actor identity headers, set by the authenticating front end. The relay
// itself does not manage credentials; it trusts these on routes behind
// BearerAuth and pins the role to "user" on participant routes.
const (
	headerActor = "X-Relay-Actor"
	headerRole  = "X-Relay-Role"
)

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// operatorActor extracts the operator identity from request headers.
// An unrecognized role downgrades to operator, never up to admin.
func operatorActor(r *http.Request) relay.Actor {
	actor := relay.Actor{
		Name: strings.TrimSpace(r.Header.Get(headerActor)),
		Role: relay.RoleOperator,
	}
	if strings.EqualFold(r.Header.Get(headerRole), string(relay.RoleAdmin)) {
		actor.Role = relay.RoleAdmin
	}
	return actor
}
