package identity

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthenticateValidAgentToken(t *testing.T) {
	auth := NewJWTAuthenticator("top-secret")
	token := signToken(t, "top-secret", jwt.MapClaims{"sub": "agent-1", "role": "cs", "name": "Ada"})

	p, err := auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Role != domain.RoleAgent || p.ID != "agent-1" || p.DisplayName != "Ada" {
		t.Fatalf("got %+v", p)
	}
}

func TestAuthenticateAdminRole(t *testing.T) {
	auth := NewJWTAuthenticator("top-secret")
	token := signToken(t, "top-secret", jwt.MapClaims{"sub": "admin-1", "role": "admin"})

	p, err := auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Role != domain.RoleAdmin {
		t.Fatalf("role = %s, want admin", p.Role)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	auth := NewJWTAuthenticator("top-secret")
	token := signToken(t, "wrong-secret", jwt.MapClaims{"sub": "agent-1", "role": "cs"})

	_, err := auth.Authenticate(context.Background(), token)
	if err != apierr.ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	auth := NewJWTAuthenticator("top-secret")
	_, err := auth.Authenticate(context.Background(), "")
	if err != apierr.ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateRejectsMissingSubject(t *testing.T) {
	auth := NewJWTAuthenticator("top-secret")
	token := signToken(t, "top-secret", jwt.MapClaims{"role": "cs"})

	_, err := auth.Authenticate(context.Background(), token)
	if err != apierr.ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
