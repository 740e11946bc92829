// Package gateway is the connection gateway (C1): it upgrades HTTP to
// websocket on the three role-specific endpoints, authenticates the
// connection, enforces the subscription policy of spec §4.6, and
// dispatches inbound frames into the session machine, dispatcher, and
// broker. It never implements chat semantics itself.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/identity"
	"github.com/ashureev/chatbroker/internal/metrics"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/queue"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

// Config tunes gateway behavior from process configuration.
type Config struct {
	AllowedOrigin   string
	IsDev           bool
	DefaultMaxChats int
}

// Gateway wires live connections into the rest of the system.
type Gateway struct {
	repo       store.Repository
	presence   *presence.Registry
	broker     *broker.Broker
	machine    *session.Machine
	dispatcher *queue.Dispatcher
	authn      identity.Authenticator
	cfg        Config

	mu    sync.Mutex
	conns map[string]*Conn // principal key -> live connection, for displacement
}

// New creates a Gateway.
func New(repo store.Repository, pres *presence.Registry, b *broker.Broker, machine *session.Machine, dispatcher *queue.Dispatcher, authn identity.Authenticator, cfg Config) *Gateway {
	return &Gateway{
		repo:       repo,
		presence:   pres,
		broker:     b,
		machine:    machine,
		dispatcher: dispatcher,
		authn:      authn,
		cfg:        cfg,
		conns:      make(map[string]*Conn),
	}
}

func principalKey(role domain.Role, id string) string {
	return string(role) + ":" + id
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.cfg.IsDev || g.cfg.AllowedOrigin == "" || g.cfg.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == g.cfg.AllowedOrigin {
		return true
	}
	slog.Warn("gateway: origin rejected", "origin", origin, "allowed", g.cfg.AllowedOrigin)
	return false
}

// register replaces any existing connection for this principal, closing
// the old one with a courtesy frame first (spec's reconnect/displacement
// behavior: the newer connection always wins).
func (g *Gateway) register(key string, conn *Conn) {
	g.mu.Lock()
	old, existed := g.conns[key]
	g.conns[key] = conn
	g.mu.Unlock()

	if existed {
		displace(old)
	}
}

// rekey moves conn's registry entry from oldKey to newKey, displacing
// whatever was already registered under newKey. Used when a customer
// connection starts latent (registered under its own connection id,
// since no customer_token exists yet) and only learns its stable
// customer_token once customer:start_chat creates it — until that rekey,
// two connections for the same customer can never collide on the map and
// displacement is a no-op for them. A reconnecting customer whose token
// resolves is registered under the token key directly, without a rekey.
func (g *Gateway) rekey(oldKey, newKey string, conn *Conn) {
	if oldKey == newKey {
		return
	}
	g.mu.Lock()
	if g.conns[oldKey] == conn {
		delete(g.conns, oldKey)
	}
	old, existed := g.conns[newKey]
	g.conns[newKey] = conn
	g.mu.Unlock()

	if existed && old != conn {
		displace(old)
	}
}

// displace sends old a courtesy frame and closes it shortly after, giving
// the frame time to flush.
func displace(old *Conn) {
	_ = old.writeJSON(broker.NewEnvelope("system:error", map[string]any{
		"code":    "SESSION_REPLACED",
		"message": "a newer connection for this session has been established",
	}))
	go func() {
		time.Sleep(50 * time.Millisecond) // give the courtesy frame a chance to flush
		_ = old.ws.Close(websocket.StatusNormalClosure, "session replaced")
	}()
}

func (g *Gateway) unregister(key string, conn *Conn) {
	g.mu.Lock()
	if g.conns[key] == conn {
		delete(g.conns, key)
	}
	g.mu.Unlock()
}

func (g *Gateway) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, false
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Error("gateway: accept failed", "error", err)
		return nil, false
	}
	return ws, true
}

// run drives a connection's write pump and read loop until disconnect,
// then tears down subscriptions and registration. Shared by all three
// role handlers. key is a pointer because a latent customer connection's
// registry key can change mid-life (see rekey); run always unregisters
// whatever key is current at teardown time.
func (g *Gateway) run(ctx context.Context, conn *Conn, key *string, handle func(inboundFrame)) {
	role := conn.principal.Role
	metrics.WSConnectionsActive.WithLabelValues(string(role)).Inc()

	defer func() { _ = conn.ws.Close(websocket.StatusNormalClosure, "connection ended") }()
	defer g.broker.UnsubscribeAll(conn)
	defer func() { g.unregister(*key, conn) }()
	defer metrics.WSConnectionsActive.WithLabelValues(string(role)).Dec()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn.writePump(runCtx)
	}()

	conn.readLoop(runCtx, handle)
	cancel()
	wg.Wait()
}

func newConnID() string { return uuid.NewString() }

func writeAPIError(conn *Conn, err error, requestID string) {
	conn.sendError(string(apierr.CodeOf(err)), apierr.MessageOf(err), requestID)
}
