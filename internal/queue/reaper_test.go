package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/chatbroker/internal/domain"
)

func TestReaperAbandonsIdleActiveSession(t *testing.T) {
	env := newTestEnv(t, true)
	env.pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)

	sess, err := env.machine.StartChat(context.Background(), "Ada", "", "")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	waitUntil(t, func() bool {
		got, _ := env.repo.GetSessionByID(context.Background(), sess.ID)
		return got.Status == domain.StatusActive
	})

	reaper := NewReaper(env.repo, env.machine, 0, 10*time.Millisecond)
	reaper.Run(ctxWithCancel(t))

	waitUntil(t, func() bool {
		got, _ := env.repo.GetSessionByID(context.Background(), sess.ID)
		return got.Status == domain.StatusAbandoned
	})

	presence, _ := env.pres.Get("agent-1")
	if presence.CurrentChats != 0 {
		t.Fatalf("current_chats = %d, want 0 after idle abandonment releases capacity", presence.CurrentChats)
	}
}

func ctxWithCancel(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
