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

// ServeAdmin handles /ws/admin: a read-mostly dashboard connection that
// also carries the force-assign override.
func (g *Gateway) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	token := identity.BearerTokenFromRequest(r)
	principal, err := g.authn.Authenticate(r.Context(), token)
	if err != nil || principal.Role != domain.RoleAdmin {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, ok := g.accept(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	conn := newConn(newConnID(), ws, principal)
	key := principalKey(domain.RoleAdmin, principal.ID)
	g.register(key, conn)

	g.broker.Subscribe(conn, broker.TopicAdminStats)
	g.broker.Subscribe(conn, broker.TopicQueue)

	g.run(ctx, conn, &key, func(frame inboundFrame) {
		g.handleAdminFrame(ctx, conn, frame)
	})
}

func (g *Gateway) handleAdminFrame(ctx context.Context, conn *Conn, frame inboundFrame) {
	switch frame.Event {
	case "admin:force_assign":
		var payload struct {
			SessionID string `json:"sessionId"`
			CsID      string `json:"csId"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			conn.sendError(string(apierr.CodeInvalidSession), "malformed force_assign payload", frame.RequestID)
			return
		}
		agentName := ""
		if p, ok := g.presence.Get(payload.CsID); ok {
			agentName = p.DisplayName
		}
		if err := g.dispatcher.ManualAccept(ctx, payload.CsID, agentName, payload.SessionID); err != nil {
			writeAPIError(conn, err, frame.RequestID)
		}

	case "admin:get_queue_snapshot":
		waiting, err := g.repo.GetWaitingSessionsOrdered(ctx)
		if err != nil {
			writeAPIError(conn, err, frame.RequestID)
			return
		}
		conn.Deliver(broker.NewEnvelope("admin:queue_snapshot", map[string]any{
			"waiting": sessionsToWire(waiting),
			"agents":  presenceToWire(g.presence.Snapshot()),
		}).WithRequestID(frame.RequestID))

	case "admin:broadcast":
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		g.broker.Publish(broker.TopicBroadcast, broker.NewEnvelope("system:broadcast", map[string]any{
			"message": payload.Message,
		}))

	default:
		conn.sendError(string(apierr.CodeInvalidSession), "unrecognized event "+frame.Event, frame.RequestID)
	}
}
