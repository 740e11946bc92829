package identity

import (
	"context"
	"net/http"
	"regexp"

	"github.com/ashureev/chatbroker/internal/domain"
)

var customerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9-]{8,128}$`)

// CustomerTokenFromRequest extracts the optional customer_token a
// reconnecting customer presents on /ws/customer, per spec §6. An absent
// or malformed token means "latent customer" — the connection binds once
// customer:start_chat arrives.
func CustomerTokenFromRequest(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if token == "" || !customerTokenPattern.MatchString(token) {
		return ""
	}
	return token
}

// BearerTokenFromRequest extracts the bearer credential cs/admin paths
// require, from either the Authorization header or a token query param
// (websocket upgrade requests can't set arbitrary headers from a browser).
func BearerTokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.URL.Query().Get("token")
}

type contextKey int

const principalKey contextKey = iota

// WithPrincipal attaches a resolved Principal to ctx.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the Principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}
