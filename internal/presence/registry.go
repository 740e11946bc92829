// Package presence is the in-process, authoritative mirror of agent
// presence and capacity (C3). It is rehydrated from the store on startup
// and flushed to offline on shutdown; the store remains the durable
// record, this registry exists so the hot path of Reserve/Release never
// takes a database round trip.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/metrics"
	"github.com/ashureev/chatbroker/internal/store"
)

// ChangeFunc is invoked whenever an agent's presence changes.
type ChangeFunc func(domain.AgentPresence)

// Registry is the in-memory agent presence/capacity cache.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentPresence

	subMu       sync.RWMutex
	subscribers []ChangeFunc

	repo store.Repository
}

// New creates an empty registry. Call Rehydrate to load from the store.
func New(repo store.Repository) *Registry {
	return &Registry{
		agents: make(map[string]*domain.AgentPresence),
		repo:   repo,
	}
}

// Rehydrate loads every known agent's presence from the store, resetting
// all of them to offline: a freshly started process has no live
// connections, so nothing can be online yet.
func (r *Registry) Rehydrate(ctx context.Context) error {
	rows, err := r.repo.ListAgentPresence(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate presence: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range rows {
		cp := *p
		cp.State = domain.PresenceOffline
		r.agents[p.AgentID] = &cp
	}
	return nil
}

// Subscribe registers a callback invoked on every presence change.
func (r *Registry) Subscribe(fn ChangeFunc) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) notify(p domain.AgentPresence) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, fn := range r.subscribers {
		fn(p)
	}
}

// ensure returns the agent's entry, creating a default one if it's the
// first time this process has seen it.
func (r *Registry) ensure(agentID, displayName string, maxChats int) *domain.AgentPresence {
	p, ok := r.agents[agentID]
	if !ok {
		p = &domain.AgentPresence{
			AgentID:     agentID,
			DisplayName: displayName,
			State:       domain.PresenceOffline,
			MaxChats:    maxChats,
		}
		r.agents[agentID] = p
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	if maxChats > 0 {
		p.MaxChats = maxChats
	}
	return p
}

// SetState updates an agent's presence state. Connecting agents should call
// this with displayName/maxChats so a never-before-seen agent gets a
// default entry.
func (r *Registry) SetState(agentID, displayName string, maxChats int, state domain.PresenceState) {
	r.mu.Lock()
	p := r.ensure(agentID, displayName, maxChats)
	p.State = state
	p.LastSeenAt = time.Now()
	snapshot := *p
	r.mu.Unlock()

	// Mirror the change into the store: its assignment/transfer transactions
	// check the persisted state and capacity, not this registry.
	ctx := context.Background()
	if err := r.repo.UpsertAgentPresence(ctx, &snapshot); err != nil {
		slog.Warn("presence: failed to persist agent presence", "agent_id", agentID, "error", err)
	} else if err := r.repo.SetAgentState(ctx, agentID, state); err != nil {
		slog.Warn("presence: failed to persist agent state", "agent_id", agentID, "error", err)
	}

	slog.Info("presence: state changed", "agent_id", agentID, "state", state)
	metrics.AgentUtilization.WithLabelValues(agentID).Set(snapshot.Utilization())
	metrics.AgentsOnline.Set(float64(r.countOnline()))
	r.notify(snapshot)
}

func (r *Registry) countOnline() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.agents {
		if p.State == domain.PresenceOnline {
			n++
		}
	}
	return n
}

// Reserve atomically increments current_chats iff the agent is online and
// under capacity.
func (r *Registry) Reserve(agentID string) error {
	r.mu.Lock()
	p, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return apierr.ErrNotOnline
	}
	if p.State != domain.PresenceOnline {
		r.mu.Unlock()
		return apierr.ErrNotOnline
	}
	if p.CurrentChats >= p.MaxChats {
		r.mu.Unlock()
		return apierr.ErrAtCapacity
	}
	p.CurrentChats++
	p.LastSeenAt = time.Now()
	snapshot := *p
	r.mu.Unlock()

	metrics.AgentUtilization.WithLabelValues(agentID).Set(snapshot.Utilization())
	r.notify(snapshot)
	return nil
}

// Release decrements current_chats, never below zero.
func (r *Registry) Release(agentID string) {
	r.mu.Lock()
	p, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if p.CurrentChats > 0 {
		p.CurrentChats--
	}
	p.LastSeenAt = time.Now()
	snapshot := *p
	r.mu.Unlock()

	metrics.AgentUtilization.WithLabelValues(agentID).Set(snapshot.Utilization())
	r.notify(snapshot)
}

// Get returns a snapshot of a single agent's presence.
func (r *Registry) Get(agentID string) (domain.AgentPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.agents[agentID]
	if !ok {
		return domain.AgentPresence{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every known agent's presence.
func (r *Registry) Snapshot() []domain.AgentPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AgentPresence, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, *p)
	}
	return out
}

// AvailableAgents returns agents that are online and under capacity, in
// no particular order; Dispatcher sorts them (least-loaded first, then
// earliest LastSeenAt).
func (r *Registry) AvailableAgents() []domain.AgentPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AgentPresence, 0, len(r.agents))
	for _, p := range r.agents {
		if p.IsAvailable() {
			out = append(out, *p)
		}
	}
	return out
}

// Flush forces every tracked agent offline. Called on shutdown, per spec.
func (r *Registry) Flush(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.agents))
	for id, p := range r.agents {
		p.State = domain.PresenceOffline
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.repo.SetAgentState(ctx, id, domain.PresenceOffline); err != nil {
			slog.Warn("presence: failed to persist offline state on shutdown", "agent_id", id, "error", err)
		}
	}
}
