// Package identity extracts the authenticated Principal bound to a
// connection or request. Per spec §1, token issuance and password
// handling are an external collaborator; this package only consumes the
// Authenticate(token) -> Principal | Invalid contract for agent and admin
// paths, verifying a bearer JWT minted by that external system.
package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
)

// Authenticator resolves a bearer credential to a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
}

// JWTAuthenticator verifies HMAC-signed bearer tokens issued by the
// external identity service. Expected claims: sub (agent id), role
// (cs|admin), name (display name).
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an Authenticator keyed by the configured
// jwt_secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, apierr.ErrUnauthorized
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		return domain.Principal{}, apierr.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, apierr.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Principal{}, apierr.ErrUnauthorized
	}
	roleClaim, _ := claims["role"].(string)
	name, _ := claims["name"].(string)

	role := domain.RoleAgent
	if roleClaim == "admin" {
		role = domain.RoleAdmin
	}

	return domain.Principal{Role: role, ID: sub, DisplayName: name}, nil
}
