package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/chatbroker/internal/metrics"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

const defaultReaperInterval = 30 * time.Second

// Reaper periodically abandons sessions with no recent message activity,
// per spec §4.4. It is the same ticker-loop shape as the teacher's TTL
// worker, generalized from "expire idle containers" to "reap idle chats".
type Reaper struct {
	repo        store.Repository
	machine     *session.Machine
	idleTimeout time.Duration
	interval    time.Duration
}

// NewReaper creates a Reaper with the configured idle timeout. interval
// defaults to 30s when zero.
func NewReaper(repo store.Repository, machine *session.Machine, idleTimeout, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	return &Reaper{repo: repo, machine: machine, idleTimeout: idleTimeout, interval: interval}
}

// Run starts the sweep loop until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		slog.Info("idle reaper started", "interval", r.interval, "idle_timeout", r.idleTimeout)
		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-ctx.Done():
				slog.Info("idle reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Reaper) sweep(ctx context.Context) {
	threshold := time.Now().Add(-r.idleTimeout)
	idle, err := r.repo.GetIdleSessions(ctx, threshold)
	if err != nil {
		slog.Error("idle reaper: failed to query idle sessions", "error", err)
		return
	}
	if len(idle) == 0 {
		return
	}

	slog.Info("idle reaper found idle sessions", "count", len(idle))
	for _, sess := range idle {
		if err := r.machine.EndChat(ctx, sess.ID, "idle"); err != nil {
			slog.Warn("idle reaper: failed to abandon session", "session_id", sess.ID, "error", err)
			continue
		}
		metrics.IdleAbandonmentsTotal.Inc()
	}
}
