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

// ServeCustomer handles /ws/customer. A customer may arrive "latent" (no
// token: must send customer:start_chat before anything else works) or
// reconnecting with a customer_token, in which case the full transcript is
// replayed in one session:restored frame.
func (g *Gateway) ServeCustomer(w http.ResponseWriter, r *http.Request) {
	ws, ok := g.accept(w, r)
	if !ok {
		return
	}

	token := identity.CustomerTokenFromRequest(r)
	principal := domain.Principal{Role: domain.RoleCustomer, ID: token}
	conn := newConn(newConnID(), ws, principal)
	ctx := r.Context()

	var sessionID string
	latentKey := principalKey(domain.RoleCustomer, conn.id)
	key := latentKey
	if token != "" {
		sess, msgs, err := g.machine.Restore(ctx, token)
		if err != nil {
			_ = conn.writeJSON(broker.NewEnvelope("system:error", map[string]any{
				"code":    string(apierr.CodeOf(err)),
				"message": apierr.MessageOf(err),
			}))
		} else {
			sessionID = sess.ID
			conn.principal.ID = sess.CustomerToken
			key = principalKey(domain.RoleCustomer, sess.CustomerToken)
			g.broker.Subscribe(conn, broker.SessionTopic(sessionID))
			_ = conn.writeJSON(broker.NewEnvelope("session:restored", map[string]any{
				"sessionId":  sess.ID,
				"status":     sess.Status,
				"assignedCs": sess.AssignedAgentID,
				"messages":   messagesToWire(msgs),
			}))
		}
	}

	g.register(key, conn)

	g.run(ctx, conn, &key, func(frame inboundFrame) {
		g.handleCustomerFrame(ctx, conn, &sessionID, &key, frame)
	})
}

func (g *Gateway) handleCustomerFrame(ctx context.Context, conn *Conn, sessionID, key *string, frame inboundFrame) {
	switch frame.Event {
	case "customer:start_chat":
		var payload struct {
			CustomerName  string `json:"customerName"`
			CustomerEmail string `json:"customerEmail"`
			SourceURL     string `json:"sourceUrl"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			conn.sendError(string(apierr.CodeInvalidSession), "malformed start_chat payload", frame.RequestID)
			return
		}
		sess, err := g.machine.StartChat(ctx, payload.CustomerName, payload.CustomerEmail, payload.SourceURL)
		if err != nil {
			writeAPIError(conn, err, frame.RequestID)
			return
		}
		*sessionID = sess.ID
		conn.principal.ID = sess.CustomerToken
		newKey := principalKey(domain.RoleCustomer, sess.CustomerToken)
		g.rekey(*key, newKey, conn)
		*key = newKey
		g.broker.Subscribe(conn, broker.SessionTopic(sess.ID))
		conn.Deliver(broker.NewEnvelope("session:started", map[string]any{
			"sessionId":     sess.ID,
			"customerToken": sess.CustomerToken,
		}).WithRequestID(frame.RequestID))

	case "customer:send_message":
		if *sessionID == "" {
			conn.sendError(string(apierr.CodeInvalidSession), "no active session", frame.RequestID)
			return
		}
		var payload struct {
			Content     string `json:"content"`
			MessageType string `json:"messageType"`
			FileRef     string `json:"fileRef"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		kind := domain.MessageKind(payload.MessageType)
		if err := g.machine.SendMessage(ctx, conn.principal, *sessionID, payload.Content, kind, payload.FileRef); err != nil {
			writeAPIError(conn, err, frame.RequestID)
		}

	case "customer:typing":
		if *sessionID != "" {
			g.broker.Publish(broker.SessionTopic(*sessionID), broker.NewEnvelope("chat:customer_typing", map[string]any{
				"sessionId": *sessionID,
			}))
		}

	case "customer:end_chat":
		if *sessionID != "" {
			if err := g.machine.EndChat(ctx, *sessionID, "customer_left"); err != nil {
				writeAPIError(conn, err, frame.RequestID)
			}
		}

	case "customer:rating":
		if *sessionID == "" {
			conn.sendError(string(apierr.CodeInvalidSession), "no session to rate", frame.RequestID)
			return
		}
		var payload struct {
			Rating   int    `json:"rating"`
			Feedback string `json:"feedback"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		if err := g.machine.Rate(ctx, *sessionID, payload.Rating, payload.Feedback); err != nil {
			writeAPIError(conn, err, frame.RequestID)
		}

	default:
		conn.sendError(string(apierr.CodeInvalidSession), "unrecognized event "+frame.Event, frame.RequestID)
	}
}

func messagesToWire(msgs []*domain.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"senderType":  string(m.SenderRole),
			"senderId":    m.SenderID,
			"messageType": string(m.Kind),
			"content":     m.Body,
			"fileRef":     m.FileRef,
			"createdAt":   m.CreatedAt.UnixMilli(),
		})
	}
	return out
}
