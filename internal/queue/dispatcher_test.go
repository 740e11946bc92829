package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

type testEnv struct {
	repo    store.Repository
	pres    *presence.Registry
	br      *broker.Broker
	machine *session.Machine
	disp    *Dispatcher
}

func newTestEnv(t *testing.T, autoAssign bool) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pres := presence.New(repo)
	br := broker.New(8)
	t.Cleanup(br.Shutdown)
	machine := session.New(repo, pres, br)
	disp := NewDispatcher(repo, pres, machine, autoAssign, 2, 8)
	t.Cleanup(disp.Shutdown)

	return &testEnv{repo: repo, pres: pres, br: br, machine: machine, disp: disp}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHappyPathAutoAssign(t *testing.T) {
	env := newTestEnv(t, true)
	env.pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)

	sess, err := env.machine.StartChat(context.Background(), "Ada", "", "")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	waitUntil(t, func() bool {
		got, _ := env.repo.GetSessionByID(context.Background(), sess.ID)
		return got != nil && got.Status == domain.StatusActive && got.AssignedAgentID == "agent-1"
	})
}

func TestQueueingWhenNoAgentAvailable(t *testing.T) {
	env := newTestEnv(t, true)
	env.pres.SetState("agent-1", "A1", 5, domain.PresenceBusy)

	sess, err := env.machine.StartChat(context.Background(), "Ada", "", "")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	got, _ := env.repo.GetSessionByID(context.Background(), sess.ID)
	if got.Status != domain.StatusWaiting {
		t.Fatalf("status = %s, want waiting while no agent online", got.Status)
	}

	env.pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)
	env.disp.Kick()

	waitUntil(t, func() bool {
		got, _ := env.repo.GetSessionByID(context.Background(), sess.ID)
		return got.Status == domain.StatusActive
	})
}

func TestManualAcceptRaceOnlyOneWinner(t *testing.T) {
	env := newTestEnv(t, false) // disable auto-assign so we control the race directly
	env.pres.SetState("agent-1", "A1", 1, domain.PresenceOnline)
	env.pres.SetState("agent-2", "A2", 1, domain.PresenceOnline)

	sess, err := env.machine.StartChat(context.Background(), "Ada", "", "")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- env.disp.ManualAccept(context.Background(), "agent-1", "A1", sess.ID) }()
	go func() { errCh <- env.disp.ManualAccept(context.Background(), "agent-2", "A2", sess.ID) }()

	successes := 0
	for i := 0; i < 2; i++ {
		if err := <-errCh; err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", successes)
	}
}

func TestNoAutoAssignWhenDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	env.pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)

	sess, err := env.machine.StartChat(context.Background(), "Ada", "", "")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	got, _ := env.repo.GetSessionByID(context.Background(), sess.ID)
	if got.Status != domain.StatusWaiting {
		t.Fatalf("status = %s, want waiting when auto_assign_enabled=false", got.Status)
	}
}
