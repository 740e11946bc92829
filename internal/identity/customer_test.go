package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/chatbroker/internal/domain"
)

func TestCustomerTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/customer?token=abcdef1234567890", nil)
	if got := CustomerTokenFromRequest(r); got != "abcdef1234567890" {
		t.Fatalf("got %q", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/ws/customer?token=bad!token", nil)
	if got := CustomerTokenFromRequest(r2); got != "" {
		t.Fatalf("malformed token should be rejected, got %q", got)
	}

	r3 := httptest.NewRequest(http.MethodGet, "/ws/customer", nil)
	if got := CustomerTokenFromRequest(r3); got != "" {
		t.Fatalf("absent token should return empty, got %q", got)
	}
}

func TestBearerTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/cs", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := BearerTokenFromRequest(r); got != "abc123" {
		t.Fatalf("got %q", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/ws/cs?token=xyz789", nil)
	if got := BearerTokenFromRequest(r2); got != "xyz789" {
		t.Fatalf("got %q", got)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	p := domain.Principal{Role: domain.RoleAgent, ID: "agent-1"}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	if !ok || got.ID != "agent-1" {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
}
