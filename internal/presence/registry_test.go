package presence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return New(repo)
}

func TestReserveRequiresOnline(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Reserve("agent-1"); !errors.Is(err, apierr.ErrNotOnline) {
		t.Fatalf("Reserve on unknown agent = %v, want ErrNotOnline", err)
	}

	r.SetState("agent-1", "Ada", 2, domain.PresenceBusy)
	if err := r.Reserve("agent-1"); !errors.Is(err, apierr.ErrNotOnline) {
		t.Fatalf("Reserve while busy = %v, want ErrNotOnline", err)
	}
}

func TestReserveRespectsCapacity(t *testing.T) {
	r := newTestRegistry(t)
	r.SetState("agent-1", "Ada", 1, domain.PresenceOnline)

	if err := r.Reserve("agent-1"); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	if err := r.Reserve("agent-1"); !errors.Is(err, apierr.ErrAtCapacity) {
		t.Fatalf("second Reserve = %v, want ErrAtCapacity", err)
	}

	p, _ := r.Get("agent-1")
	if p.CurrentChats != 1 {
		t.Fatalf("current_chats = %d, want 1", p.CurrentChats)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	r := newTestRegistry(t)
	r.SetState("agent-1", "Ada", 1, domain.PresenceOnline)
	r.Release("agent-1")
	r.Release("agent-1")

	p, _ := r.Get("agent-1")
	if p.CurrentChats != 0 {
		t.Fatalf("current_chats = %d, want 0", p.CurrentChats)
	}
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	r := newTestRegistry(t)
	var got []domain.PresenceState
	r.Subscribe(func(p domain.AgentPresence) {
		got = append(got, p.State)
	})

	r.SetState("agent-1", "Ada", 2, domain.PresenceOnline)
	if err := r.Reserve("agent-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if len(got) < 1 {
		t.Fatal("expected at least one notification")
	}
}

func TestFlushForcesOffline(t *testing.T) {
	r := newTestRegistry(t)
	r.SetState("agent-1", "Ada", 2, domain.PresenceOnline)

	r.Flush(context.Background())

	p, _ := r.Get("agent-1")
	if p.State != domain.PresenceOffline {
		t.Fatalf("state = %s, want offline after flush", p.State)
	}
}

func TestAvailableAgentsFiltersUnavailable(t *testing.T) {
	r := newTestRegistry(t)
	r.SetState("agent-1", "Ada", 1, domain.PresenceOnline)
	r.SetState("agent-2", "Bob", 1, domain.PresenceOffline)
	if err := r.Reserve("agent-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	avail := r.AvailableAgents()
	if len(avail) != 0 {
		t.Fatalf("expected 0 available agents (one at capacity, one offline), got %d", len(avail))
	}
}
