package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/identity"
)

// ServeAgent handles /ws/cs: an authenticated customer-service agent.
// Connecting marks the agent online and subscribes it to its own topic,
// the shared queue topic, and every session it already has active —
// spec §4.6's subscription table.
func (g *Gateway) ServeAgent(w http.ResponseWriter, r *http.Request) {
	token := identity.BearerTokenFromRequest(r)
	principal, err := g.authn.Authenticate(r.Context(), token)
	if err != nil || principal.Role != domain.RoleAgent {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, ok := g.accept(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	conn := newConn(newConnID(), ws, principal)
	key := principalKey(domain.RoleAgent, principal.ID)
	g.register(key, conn)

	maxChats := g.cfg.DefaultMaxChats
	g.presence.SetState(principal.ID, principal.DisplayName, maxChats, domain.PresenceOnline)
	g.broker.Subscribe(conn, broker.AgentTopic(principal.ID))
	g.broker.Subscribe(conn, broker.TopicQueue)

	if active, err := g.repo.GetActiveSessionsForAgent(ctx, principal.ID); err == nil {
		for _, sess := range active {
			g.broker.Subscribe(conn, broker.SessionTopic(sess.ID))
		}
	}

	defer g.presence.SetState(principal.ID, "", 0, domain.PresenceOffline)

	g.run(ctx, conn, &key, func(frame inboundFrame) {
		g.handleAgentFrame(ctx, conn, frame)
	})
}

func (g *Gateway) handleAgentFrame(ctx context.Context, conn *Conn, frame inboundFrame) {
	agentID := conn.principal.ID

	switch frame.Event {
	case "cs:accept_chat":
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			conn.sendError(string(apierr.CodeInvalidSession), "malformed accept_chat payload", frame.RequestID)
			return
		}
		if err := g.dispatcher.ManualAccept(ctx, agentID, conn.principal.DisplayName, payload.SessionID); err != nil {
			writeAPIError(conn, err, frame.RequestID)
			return
		}
		g.broker.Subscribe(conn, broker.SessionTopic(payload.SessionID))

	case "cs:send_message":
		var payload struct {
			SessionID   string `json:"sessionId"`
			Content     string `json:"content"`
			MessageType string `json:"messageType"`
			FileRef     string `json:"fileRef"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		kind := domain.MessageKind(payload.MessageType)
		if err := g.machine.SendMessage(ctx, conn.principal, payload.SessionID, payload.Content, kind, payload.FileRef); err != nil {
			writeAPIError(conn, err, frame.RequestID)
		}

	case "cs:transfer_chat":
		var payload struct {
			SessionID string `json:"sessionId"`
			ToCsID    string `json:"toCsId"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		toName := ""
		if p, ok := g.presence.Get(payload.ToCsID); ok {
			toName = p.DisplayName
		}
		if err := g.machine.TransferChat(ctx, agentID, payload.ToCsID, toName, payload.SessionID); err != nil {
			writeAPIError(conn, err, frame.RequestID)
			return
		}
		g.broker.Unsubscribe(conn, broker.SessionTopic(payload.SessionID))

	case "cs:resolve_chat":
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		if err := g.machine.ResolveChat(ctx, agentID, payload.SessionID); err != nil {
			writeAPIError(conn, err, frame.RequestID)
			return
		}
		g.broker.Unsubscribe(conn, broker.SessionTopic(payload.SessionID))

	case "cs:typing":
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		if payload.SessionID != "" {
			g.broker.Publish(broker.SessionTopic(payload.SessionID), broker.NewEnvelope("chat:cs_typing", map[string]any{
				"sessionId": payload.SessionID,
			}))
		}

	case "cs:get_active_chats":
		active, err := g.repo.GetActiveSessionsForAgent(ctx, agentID)
		if err != nil {
			writeAPIError(conn, err, frame.RequestID)
			return
		}
		conn.Deliver(broker.NewEnvelope("cs:active_chats", map[string]any{
			"sessions": sessionsToWire(active),
		}).WithRequestID(frame.RequestID))

	case "cs:set_status":
		var payload struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		state := domain.PresenceState(payload.Status)
		switch state {
		case domain.PresenceOnline, domain.PresenceBusy, domain.PresenceOffline:
			g.presence.SetState(agentID, "", 0, state)
			g.broker.Publish(broker.TopicQueue, broker.NewEnvelope("cs:status_changed", map[string]any{
				"agentId": agentID,
				"status":  state,
			}))
		default:
			conn.sendError(string(apierr.CodeInvalidSession), "invalid status "+payload.Status, frame.RequestID)
		}

	default:
		conn.sendError(string(apierr.CodeInvalidSession), "unrecognized event "+frame.Event, frame.RequestID)
	}
}
