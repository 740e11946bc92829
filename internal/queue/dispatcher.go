// Package queue implements the waiting queue and dispatcher (C4). The
// queue itself is not a dedicated data structure — it is a query over the
// store (GetWaitingSessionsOrdered) — plus a dispatcher that holds only
// short-lived per-session critical sections, per spec §5.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/alitto/pond"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/metrics"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

// Dispatcher runs the auto-assignment loop: a new waiting session, an
// agent going online, or an agent releasing capacity all trigger a sweep
// of the queue against available agents.
type Dispatcher struct {
	repo     store.Repository
	presence *presence.Registry
	machine  *session.Machine
	pool     *pond.WorkerPool

	sweepCh    chan struct{}
	autoAssign bool
}

// NewDispatcher creates a Dispatcher and wires it into machine as its
// QueueKicker (see session.Machine.SetKicker).
func NewDispatcher(repo store.Repository, pres *presence.Registry, machine *session.Machine, autoAssign bool, poolSize, poolCapacity int) *Dispatcher {
	d := &Dispatcher{
		repo:       repo,
		presence:   pres,
		machine:    machine,
		pool:       pond.New(poolSize, poolCapacity, pond.MinWorkers(1)),
		sweepCh:    make(chan struct{}, 1),
		autoAssign: autoAssign,
	}
	machine.SetKicker(d)
	pres.Subscribe(func(p domain.AgentPresence) {
		if p.IsAvailable() {
			d.Kick()
		}
	})
	return d
}

// Kick requests a sweep. It never blocks: if a sweep is already pending,
// the request is coalesced into it.
func (d *Dispatcher) Kick() {
	if !d.autoAssign {
		return
	}
	select {
	case d.sweepCh <- struct{}{}:
	default:
	}
}

// Run processes sweep requests until ctx is cancelled. Each sweep runs on
// the worker pool so a slow assignment transaction cannot stall the next
// Kick from being accepted.
func (d *Dispatcher) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.sweepCh:
				d.pool.Submit(func() { d.sweep(ctx) })
			}
		}
	}()
}

// sweep pulls the head of the waiting queue repeatedly, assigning it to
// the least-loaded available agent, until the queue is empty or no agent
// remains available.
func (d *Dispatcher) sweep(ctx context.Context) {
	waiting, err := d.repo.GetWaitingSessionsOrdered(ctx)
	if err != nil {
		slog.Error("dispatcher: failed to load waiting queue", "error", err)
		return
	}
	metrics.QueueDepth.Set(float64(len(waiting)))
	if counts, err := d.repo.CountSessionsByStatus(ctx); err == nil {
		for _, status := range []domain.SessionStatus{domain.StatusWaiting, domain.StatusActive, domain.StatusResolved, domain.StatusAbandoned} {
			metrics.SessionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}

	for _, sess := range waiting {
		agent, ok := d.pickAgent()
		if !ok {
			return
		}
		err := d.machine.AcceptChat(ctx, agent.AgentID, agent.DisplayName, sess.ID)
		if err == nil {
			metrics.AssignmentsTotal.WithLabelValues("auto").Inc()
			metrics.QueueDepth.Dec()
			continue
		}
		switch {
		case errors.Is(err, apierr.ErrAlreadyAssigned):
			// Another agent (or a manual accept) won the race; move on.
		case errors.Is(err, apierr.ErrAtCapacity), errors.Is(err, apierr.ErrNotOnline):
			// Registry and store briefly disagreed; re-sweep will pick a
			// different agent next time Kick fires.
		default:
			slog.Error("dispatcher: assignment failed", "session_id", sess.ID, "agent_id", agent.AgentID, "error", err)
		}
	}
}

// pickAgent selects the available agent with the lowest current_chats,
// ties broken by earliest last-active timestamp, per spec §4.4.
func (d *Dispatcher) pickAgent() (domain.AgentPresence, bool) {
	avail := d.presence.AvailableAgents()
	if len(avail) == 0 {
		return domain.AgentPresence{}, false
	}
	sort.Slice(avail, func(i, j int) bool {
		if avail[i].CurrentChats != avail[j].CurrentChats {
			return avail[i].CurrentChats < avail[j].CurrentChats
		}
		return avail[i].LastSeenAt.Before(avail[j].LastSeenAt)
	})
	return avail[0], true
}

// ManualAccept lets a specific agent claim a waiting session
// (cs:accept_chat / admin:force_assign): identical semantics to the
// auto-assignment step, with the agent pinned instead of chosen.
func (d *Dispatcher) ManualAccept(ctx context.Context, agentID, agentName, sessionID string) error {
	err := d.machine.AcceptChat(ctx, agentID, agentName, sessionID)
	if err == nil {
		metrics.AssignmentsTotal.WithLabelValues("manual").Inc()
	}
	return err
}

// Shutdown drains the dispatcher's worker pool.
func (d *Dispatcher) Shutdown() {
	d.pool.StopAndWait()
}
