package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/metrics"
)

// writeTimeout bounds how long a single outbound frame write may take
// before the connection is considered dead.
const writeTimeout = 10 * time.Second

// inboundFrame is the shape of a client-sent envelope. Data is left raw so
// each role's handler can unmarshal it into the concrete payload its event
// expects.
type inboundFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id,omitempty"`
}

// Conn wraps one live websocket connection and implements broker.Conn so
// the broker can deliver to it without knowing about websockets. Inbound
// frames are read and dispatched on the caller's goroutine; outbound
// envelopes are queued on a bounded buffer and drained by a dedicated
// writer goroutine, so a slow client can never block a publisher.
type Conn struct {
	id        string
	ws        *websocket.Conn
	principal domain.Principal
	buf       *outboundBuffer
}

func newConn(id string, ws *websocket.Conn, principal domain.Principal) *Conn {
	return &Conn{id: id, ws: ws, principal: principal, buf: newOutboundBuffer()}
}

// ID satisfies broker.Conn.
func (c *Conn) ID() string { return c.id }

// Deliver satisfies broker.Conn: it queues env rather than writing inline,
// so broker fan-out is never blocked on this connection's socket.
func (c *Conn) Deliver(env broker.Envelope) {
	c.buf.push(env)
}

// send queues an envelope addressed only to this connection (request
// acknowledgements, errors) — same path as a broker delivery.
func (c *Conn) send(event string, data interface{}) {
	c.Deliver(broker.NewEnvelope(event, data))
}

// sendError queues a system:error frame carrying an API error code.
func (c *Conn) sendError(code, message, requestID string) {
	c.Deliver(broker.NewEnvelope("system:error", map[string]any{
		"code":    code,
		"message": message,
	}).WithRequestID(requestID))
}

// writePump drains the outbound buffer to the socket until ctx is done or
// the connection errors out. One per connection.
func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.buf.notify:
			for {
				env, ok := c.buf.pop()
				if !ok {
					break
				}
				if err := c.writeJSON(env); err != nil {
					slog.Debug("gateway: write failed, closing", "conn_id", c.id, "error", err)
					return
				}
			}
		}
	}
}

func (c *Conn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		return err
	}
	metrics.WSMessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}

// readLoop reads frames until the socket closes or ctx is cancelled,
// invoking handle for each successfully decoded frame.
func (c *Conn) readLoop(ctx context.Context, handle func(inboundFrame)) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				slog.Debug("gateway: read error", "conn_id", c.id, "error", err)
			}
			return
		}

		metrics.WSMessagesTotal.WithLabelValues("inbound").Inc()

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("VALIDATION_ERROR", "malformed frame", "")
			continue
		}
		handle(frame)
	}
}
