// Package store provides durable persistence for chat sessions, messages,
// and agent presence, behind a narrow Repository interface.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatbroker/internal/domain"
)

// Repository defines the interface for persisting sessions, messages, and
// agent presence. Implementations must honor the two atomicity invariants
// from the assignment/capacity transitions: AssignSession, TransferSession,
// ResolveSession, and AbandonSession are each a single transaction.
type Repository interface {
	// CreateSession persists a new session in status=waiting along with its
	// welcome system message, in one transaction.
	CreateSession(ctx context.Context, session *domain.ChatSession, welcome *domain.Message) error

	// GetSessionByID retrieves a session by id. Returns nil, nil if absent.
	GetSessionByID(ctx context.Context, id string) (*domain.ChatSession, error)

	// GetSessionByToken retrieves a session by its customer token. Returns
	// nil, nil if absent.
	GetSessionByToken(ctx context.Context, token string) (*domain.ChatSession, error)

	// GetMessages returns a session's transcript ordered by created_at then id.
	GetMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// AppendMessage appends a message to a session. Fails if the session is
	// terminal (resolved/abandoned).
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// GetWaitingSessionsOrdered returns sessions with status=waiting ordered
	// by created_at (FIFO), oldest first.
	GetWaitingSessionsOrdered(ctx context.Context) ([]*domain.ChatSession, error)

	// GetActiveSessionsForAgent returns an agent's currently active sessions.
	GetActiveSessionsForAgent(ctx context.Context, agentID string) ([]*domain.ChatSession, error)

	// GetIdleSessions returns waiting/active sessions whose most recent
	// message (or creation, if no messages) is older than threshold.
	GetIdleSessions(ctx context.Context, threshold time.Time) ([]*domain.ChatSession, error)

	// CountSessionsByStatus returns the number of sessions in each status,
	// for admin-stats / metrics reporting.
	CountSessionsByStatus(ctx context.Context) (map[domain.SessionStatus]int, error)

	// AssignSession atomically moves sessionID from waiting to active,
	// assigned to agentID, and reserves the agent's capacity, appending a
	// system message within the same transaction. Returns apierr.ErrAlreadyAssigned
	// if the session is no longer waiting, or apierr.ErrAtCapacity /
	// apierr.ErrNotOnline if the agent cannot accept it.
	AssignSession(ctx context.Context, sessionID, agentID string, systemMsg *domain.Message) error

	// TransferSession atomically moves capacity from fromAgentID to
	// toAgentID and reassigns sessionID, appending a system message.
	TransferSession(ctx context.Context, sessionID, fromAgentID, toAgentID string, systemMsg *domain.Message) error

	// ResolveSession atomically sets a session to resolved, releases the
	// assigned agent's capacity, and appends a system message.
	ResolveSession(ctx context.Context, sessionID, agentID string, systemMsg *domain.Message) error

	// AbandonSession atomically sets a session to abandoned, releasing the
	// assigned agent's capacity if it had one, and appends a system message.
	AbandonSession(ctx context.Context, sessionID string, systemMsg *domain.Message) error

	// SetRating sets rating/feedback on a resolved session.
	SetRating(ctx context.Context, sessionID string, rating int, feedback string) error

	// UpsertAgentPresence creates or updates an agent's presence row.
	UpsertAgentPresence(ctx context.Context, presence *domain.AgentPresence) error

	// GetAgentPresence retrieves a single agent's presence. Returns nil, nil
	// if absent.
	GetAgentPresence(ctx context.Context, agentID string) (*domain.AgentPresence, error)

	// ListAgentPresence returns every known agent's presence row.
	ListAgentPresence(ctx context.Context) ([]*domain.AgentPresence, error)

	// SetAgentState updates an agent's state (online/busy/offline) without
	// touching capacity.
	SetAgentState(ctx context.Context, agentID string, state domain.PresenceState) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying connection.
	Close() error
}
