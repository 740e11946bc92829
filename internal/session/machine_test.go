package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/store"
)

func newTestMachine(t *testing.T) (*Machine, store.Repository, *presence.Registry) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pres := presence.New(repo)
	br := broker.New(8)
	t.Cleanup(br.Shutdown)
	return New(repo, pres, br), repo, pres
}

func TestStartChatCreatesWaitingSession(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	sess, err := m.StartChat(context.Background(), "Ada", "ada@example.com", "https://example.com")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if sess.Status != domain.StatusWaiting {
		t.Fatalf("status = %s, want waiting", sess.Status)
	}

	msgs, err := repo.GetMessages(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderRole != domain.SenderSystem {
		t.Fatalf("expected exactly one system welcome message, got %+v", msgs)
	}
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	m, _, _ := newTestMachine(t)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")

	err := m.SendMessage(context.Background(), domain.Principal{Role: domain.RoleCustomer, ID: sess.CustomerToken}, sess.ID, "   ", domain.KindText, "")
	if !errors.Is(err, apierr.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSendMessageAllowedWhileWaiting(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")

	err := m.SendMessage(context.Background(), domain.Principal{Role: domain.RoleCustomer, ID: sess.CustomerToken}, sess.ID, "hello?", domain.KindText, "")
	if err != nil {
		t.Fatalf("SendMessage while waiting: %v", err)
	}

	msgs, _ := repo.GetMessages(context.Background(), sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected welcome + customer message, got %d", len(msgs))
	}
}

func TestAgentSendMessageRequiresAssignment(t *testing.T) {
	m, _, pres := newTestMachine(t)
	pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")

	err := m.SendMessage(context.Background(), domain.Principal{Role: domain.RoleAgent, ID: "agent-1"}, sess.ID, "hi", domain.KindText, "")
	if !errors.Is(err, apierr.ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned (agent not yet assigned)", err)
	}
}

func TestResolveThenDuplicateResolveFails(t *testing.T) {
	m, _, pres := newTestMachine(t)
	pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")

	if err := m.AcceptChat(context.Background(), "agent-1", "A1", sess.ID); err != nil {
		t.Fatalf("AcceptChat: %v", err)
	}
	if err := m.ResolveChat(context.Background(), "agent-1", sess.ID); err != nil {
		t.Fatalf("ResolveChat: %v", err)
	}
	err := m.ResolveChat(context.Background(), "agent-1", sess.ID)
	if !errors.Is(err, apierr.ErrResolveFailed) {
		t.Fatalf("duplicate ResolveChat err = %v, want wrapped ErrResolveFailed", err)
	}
}

func TestTransferMovesCapacity(t *testing.T) {
	m, _, pres := newTestMachine(t)
	pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)
	pres.SetState("agent-2", "A2", 5, domain.PresenceOnline)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")
	if err := m.AcceptChat(context.Background(), "agent-1", "A1", sess.ID); err != nil {
		t.Fatalf("AcceptChat: %v", err)
	}

	if err := m.TransferChat(context.Background(), "agent-1", "agent-2", "A2", sess.ID); err != nil {
		t.Fatalf("TransferChat: %v", err)
	}

	p1, _ := pres.Get("agent-1")
	p2, _ := pres.Get("agent-2")
	if p1.CurrentChats != 0 {
		t.Fatalf("agent-1 current_chats = %d, want 0", p1.CurrentChats)
	}
	if p2.CurrentChats != 1 {
		t.Fatalf("agent-2 current_chats = %d, want 1", p2.CurrentChats)
	}
}

func TestTransferRejectsOfflineTarget(t *testing.T) {
	m, _, pres := newTestMachine(t)
	pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")
	if err := m.AcceptChat(context.Background(), "agent-1", "A1", sess.ID); err != nil {
		t.Fatalf("AcceptChat: %v", err)
	}

	err := m.TransferChat(context.Background(), "agent-1", "agent-2", "A2", sess.ID)
	if !errors.Is(err, apierr.ErrTargetNotOnline) {
		t.Fatalf("err = %v, want ErrTargetNotOnline", err)
	}
}

func TestRatingOnlyAfterResolved(t *testing.T) {
	m, _, pres := newTestMachine(t)
	pres.SetState("agent-1", "A1", 5, domain.PresenceOnline)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")

	if err := m.Rate(context.Background(), sess.ID, 5, "great"); !errors.Is(err, apierr.ErrInvalidSession) {
		t.Fatalf("Rate before resolve err = %v, want ErrInvalidSession", err)
	}

	if err := m.AcceptChat(context.Background(), "agent-1", "A1", sess.ID); err != nil {
		t.Fatalf("AcceptChat: %v", err)
	}
	if err := m.ResolveChat(context.Background(), "agent-1", sess.ID); err != nil {
		t.Fatalf("ResolveChat: %v", err)
	}
	if err := m.Rate(context.Background(), sess.ID, 6, ""); !errors.Is(err, apierr.ErrInvalidRating) {
		t.Fatalf("Rate(6) err = %v, want ErrInvalidRating", err)
	}
	if err := m.Rate(context.Background(), sess.ID, 5, "great"); err != nil {
		t.Fatalf("Rate: %v", err)
	}
}

func TestRestoreReturnsFullTranscript(t *testing.T) {
	m, _, _ := newTestMachine(t)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")
	_ = m.SendMessage(context.Background(), domain.Principal{Role: domain.RoleCustomer, ID: sess.CustomerToken}, sess.ID, "hello", domain.KindText, "")

	restored, msgs, err := m.Restore(context.Background(), sess.CustomerToken)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ID != sess.ID {
		t.Fatalf("restored session id = %s, want %s", restored.ID, sess.ID)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 transcript messages, got %d", len(msgs))
	}
	if restored.Status != domain.StatusWaiting {
		t.Fatal("restore must not change session status")
	}
}

func TestEndChatAbandonsWithoutAgent(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	sess, _ := m.StartChat(context.Background(), "Ada", "", "")

	if err := m.EndChat(context.Background(), sess.ID, "customer_left"); err != nil {
		t.Fatalf("EndChat: %v", err)
	}
	got, _ := repo.GetSessionByID(context.Background(), sess.ID)
	if got.Status != domain.StatusAbandoned {
		t.Fatalf("status = %s, want abandoned", got.Status)
	}
}
