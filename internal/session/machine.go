// Package session implements the per-session lifecycle state machine (C5):
// waiting -> active -> {resolved, abandoned}, per spec §4.5. Handlers are
// plain functions over (Principal, data, Services) rather than methods on
// a god object, per the "dynamic dispatch across roles" design note —
// Machine simply bundles the services each transition needs.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/cache"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/store"
	"github.com/google/uuid"
)

// QueueKicker is implemented by the dispatcher (C4) and injected into
// Machine after construction, so this package never imports queue —
// avoiding session <-> queue <-> session import cycles, since the
// dispatcher itself must call back into Machine to perform assignments.
type QueueKicker interface {
	Kick()
}

// Machine owns the session lifecycle transitions.
type Machine struct {
	repo     store.Repository
	presence *presence.Registry
	broker   *broker.Broker
	kicker   QueueKicker
	cache    cache.SessionCache
}

// New creates a Machine. Call SetKicker once the dispatcher exists.
func New(repo store.Repository, pres *presence.Registry, b *broker.Broker) *Machine {
	return &Machine{repo: repo, presence: pres, broker: b}
}

// SetKicker wires the dispatcher in after construction.
func (m *Machine) SetKicker(k QueueKicker) { m.kicker = k }

// SetCache wires an optional read-through cache in front of Restore's
// token lookup. Never required for correctness — every transition that
// changes a session's status or assignment invalidates the cached entry.
func (m *Machine) SetCache(c cache.SessionCache) { m.cache = c }

func (m *Machine) kick() {
	if m.kicker != nil {
		m.kicker.Kick()
	}
}

// invalidateCache evicts sessionID's cached entry, if a cache is wired.
// Looked up by session id since the cache is keyed by customer token.
func (m *Machine) invalidateCache(ctx context.Context, sessionID string) {
	if m.cache == nil {
		return
	}
	sess, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil || sess == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, sess.CustomerToken); err != nil {
		slog.Debug("session: cache invalidate failed", "session_id", sessionID, "error", err)
	}
}

func systemMessage(sessionID, body string) *domain.Message {
	return &domain.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SenderRole: domain.SenderSystem,
		Kind:       domain.KindSystem,
		Body:       body,
		CreatedAt:  time.Now(),
	}
}

// StartChat creates a new waiting session (customer:start_chat).
func (m *Machine) StartChat(ctx context.Context, customerName, customerEmail, sourceURL string) (*domain.ChatSession, error) {
	sess := &domain.ChatSession{
		ID:            uuid.NewString(),
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		CustomerToken: uuid.NewString(),
		SourceURL:     sourceURL,
		Status:        domain.StatusWaiting,
		CreatedAt:     time.Now(),
	}
	welcome := systemMessage(sess.ID, "Chat started")

	if err := m.repo.CreateSession(ctx, sess, welcome); err != nil {
		slog.Error("session: create failed", "error", err)
		return nil, fmt.Errorf("%w: %v", apierr.ErrInitFailed, err)
	}

	m.broker.Publish(broker.TopicQueue, broker.NewEnvelope("queue:new_chat", map[string]any{
		"sessionId": sess.ID,
	}))

	m.kick()
	return sess, nil
}

// AcceptChat assigns sessionID to agentID (dispatcher auto-assign or
// cs:accept_chat / admin:force_assign, which share this exact semantics).
func (m *Machine) AcceptChat(ctx context.Context, agentID, agentName, sessionID string) error {
	sysMsg := systemMessage(sessionID, fmt.Sprintf("%s joined the chat", agentName))

	if err := m.presence.Reserve(agentID); err != nil {
		return err
	}
	if err := m.repo.AssignSession(ctx, sessionID, agentID, sysMsg); err != nil {
		m.presence.Release(agentID) // undo the registry-side reservation; store never committed
		return err
	}

	sess, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil || sess == nil {
		slog.Error("session: accept could not reload session", "session_id", sessionID, "error", err)
		return nil
	}

	m.broker.Publish(broker.SessionTopic(sessionID), broker.NewEnvelope("chat:assigned", map[string]any{
		"sessionId": sessionID,
		"cs":        map[string]any{"id": agentID, "name": agentName},
	}))
	m.broker.Publish(broker.AgentTopic(agentID), broker.NewEnvelope("chat:new_assigned", map[string]any{
		"sessionId": sessionID,
	}))
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, sess.CustomerToken); err != nil {
			slog.Debug("session: cache invalidate failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// SendMessage appends a message from either a customer or an agent
// (customer:send_message / cs:send_message). kind selects the message's
// payload shape per spec §3 (text/image/file); an empty kind defaults to
// text. fileRef is only meaningful for image/file messages.
func (m *Machine) SendMessage(ctx context.Context, principal domain.Principal, sessionID, content string, kind domain.MessageKind, fileRef string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apierr.ErrEmptyMessage
	}
	if kind == "" {
		kind = domain.KindText
	}
	if kind != domain.KindText && kind != domain.KindImage && kind != domain.KindFile {
		return apierr.ErrInvalidMessageKind
	}

	sess, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrSendFailed, err)
	}
	if sess == nil {
		return apierr.ErrSessionNotFound
	}
	if !sess.IsOpen() {
		return apierr.ErrInvalidSession
	}
	if principal.Role == domain.RoleAgent && sess.AssignedAgentID != principal.ID {
		return apierr.ErrNotAssigned
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Body:      content,
		FileRef:   fileRef,
		CreatedAt: time.Now(),
	}
	switch principal.Role {
	case domain.RoleAgent:
		msg.SenderRole = domain.SenderAgent
		msg.SenderID = principal.ID
	default:
		msg.SenderRole = domain.SenderCustomer
	}

	if err := m.repo.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrSendFailed, err)
	}

	m.broker.Publish(broker.SessionTopic(sessionID), broker.NewEnvelope("chat:message", map[string]any{
		"sessionId":   sessionID,
		"senderType":  string(msg.SenderRole),
		"senderId":    msg.SenderID,
		"messageType": string(msg.Kind),
		"content":     msg.Body,
		"fileRef":     msg.FileRef,
		"createdAt":   msg.CreatedAt.UnixMilli(),
	}))
	return nil
}

// TransferChat moves an active session from one agent to another
// (cs:transfer_chat).
func (m *Machine) TransferChat(ctx context.Context, fromAgentID, toAgentID, toAgentName, sessionID string) error {
	toPresence, ok := m.presence.Get(toAgentID)
	if !ok || toPresence.State != domain.PresenceOnline {
		return apierr.ErrTargetNotOnline
	}
	if toPresence.CurrentChats >= toPresence.MaxChats {
		return apierr.ErrTargetAtCapacity
	}

	sysMsg := systemMessage(sessionID, fmt.Sprintf("Chat transferred to %s", toAgentName))
	if err := m.repo.TransferSession(ctx, sessionID, fromAgentID, toAgentID, sysMsg); err != nil {
		return err
	}
	m.presence.Release(fromAgentID)
	if err := m.presence.Reserve(toAgentID); err != nil {
		slog.Warn("session: registry reserve after committed transfer failed; registry and store capacity now differ", "agent_id", toAgentID, "error", err)
	}

	m.broker.Publish(broker.SessionTopic(sessionID), broker.NewEnvelope("chat:transferred", map[string]any{
		"sessionId": sessionID,
		"newCs":     toAgentID,
	}))
	m.broker.Publish(broker.AgentTopic(fromAgentID), broker.NewEnvelope("chat:transferred_out", map[string]any{
		"sessionId": sessionID,
	}))
	m.broker.Publish(broker.AgentTopic(toAgentID), broker.NewEnvelope("chat:transferred_in", map[string]any{
		"sessionId": sessionID,
	}))

	m.invalidateCache(ctx, sessionID)
	m.kick()
	return nil
}

// ResolveChat marks an active session resolved (cs:resolve_chat).
func (m *Machine) ResolveChat(ctx context.Context, agentID, sessionID string) error {
	sysMsg := systemMessage(sessionID, "Chat resolved")
	if err := m.repo.ResolveSession(ctx, sessionID, agentID, sysMsg); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrResolveFailed, err)
	}
	m.presence.Release(agentID)

	m.broker.Publish(broker.SessionTopic(sessionID), broker.NewEnvelope("chat:ended", map[string]any{
		"sessionId": sessionID,
		"reason":    "resolved",
	}))
	m.broker.Publish(broker.AgentTopic(agentID), broker.NewEnvelope("chat:resolved", map[string]any{
		"sessionId": sessionID,
	}))

	m.invalidateCache(ctx, sessionID)
	m.kick()
	return nil
}

// EndChat abandons a waiting or active session at the customer's request
// (customer:end_chat), or via the idle reaper with a different reason.
func (m *Machine) EndChat(ctx context.Context, sessionID, reason string) error {
	sess, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil {
		return apierr.ErrSessionNotFound
	}
	if !sess.IsOpen() {
		return nil // already terminal; end_chat/reaper firing twice is a no-op
	}

	body := "Chat closed"
	if reason == "idle" {
		body = "Chat closed due to inactivity"
	} else if reason == "customer_left" {
		body = "Customer left the chat"
	}
	sysMsg := systemMessage(sessionID, body)

	wasActive := sess.Status == domain.StatusActive
	agentID := sess.AssignedAgentID

	if err := m.repo.AbandonSession(ctx, sessionID, sysMsg); err != nil {
		return err
	}
	if wasActive && agentID != "" {
		m.presence.Release(agentID)
	}

	m.broker.Publish(broker.SessionTopic(sessionID), broker.NewEnvelope("chat:ended", map[string]any{
		"sessionId": sessionID,
		"reason":    reason,
	}))
	if wasActive && agentID != "" {
		m.broker.Publish(broker.AgentTopic(agentID), broker.NewEnvelope("chat:customer_left", map[string]any{
			"sessionId": sessionID,
		}))
	}

	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, sess.CustomerToken); err != nil {
			slog.Debug("session: cache invalidate failed", "session_id", sessionID, "error", err)
		}
	}
	m.kick()
	return nil
}

// Rate attaches a post-chat rating to a resolved session (customer:rating).
func (m *Machine) Rate(ctx context.Context, sessionID string, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return apierr.ErrInvalidRating
	}
	sess, err := m.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrRatingFailed, err)
	}
	if sess == nil {
		return apierr.ErrSessionNotFound
	}
	if !sess.CanRate() {
		return apierr.ErrInvalidSession
	}
	if err := m.repo.SetRating(ctx, sessionID, rating, feedback); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrRatingFailed, err)
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, sess.CustomerToken); err != nil {
			slog.Debug("session: cache invalidate failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Restore reconnects a customer to an existing session, replaying the
// transcript in one session:restored frame. Status is never changed.
func (m *Machine) Restore(ctx context.Context, token string) (*domain.ChatSession, []*domain.Message, error) {
	sess, err := m.lookupByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("restore lookup: %w", err)
	}
	if sess == nil {
		return nil, nil, apierr.ErrSessionNotFound
	}
	msgs, err := m.repo.GetMessages(ctx, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("restore transcript: %w", err)
	}
	return sess, msgs, nil
}

// lookupByToken is Restore's session fetch, read-through the optional
// cache. A cache miss or error always falls straight to the store.
func (m *Machine) lookupByToken(ctx context.Context, token string) (*domain.ChatSession, error) {
	if m.cache != nil {
		if sess, err := m.cache.Get(ctx, token); err == nil {
			return sess, nil
		}
	}
	sess, err := m.repo.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess != nil && m.cache != nil {
		if err := m.cache.Set(ctx, token, sess); err != nil {
			slog.Debug("session: cache set failed", "token", token, "error", err)
		}
	}
	return sess, nil
}
