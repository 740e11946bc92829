package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbroker/internal/apierr"
)

// AgentHandler serves the authenticated read endpoints a CS dashboard
// uses alongside its websocket: active chats, transcript history, and a
// queue snapshot, per spec.md §6's "equivalent agent read endpoints".
type AgentHandler struct {
	*Handler
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(base *Handler) *AgentHandler {
	return &AgentHandler{Handler: base}
}

// RegisterRoutes registers the /api/agent/* routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Get("/chats", h.ActiveChats)
		r.Get("/chats/{sessionId}/history", h.History)
		r.Get("/queue", h.QueueSnapshot)
	})
}

// ActiveChats lists the authenticated agent's currently active sessions.
func (h *AgentHandler) ActiveChats(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := h.authenticateAgent(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "missing or invalid credential", string(apierr.CodeUnauthorized))
		return
	}

	sessions, err := h.repo.GetActiveSessionsForAgent(r.Context(), agentID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	Success(w, http.StatusOK, map[string]any{"sessions": sessionsToWire(sessions)})
}

// History returns a session's transcript, scoped to the owning agent.
func (h *AgentHandler) History(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := h.authenticateAgent(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "missing or invalid credential", string(apierr.CodeUnauthorized))
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	sess, err := h.repo.GetSessionByID(r.Context(), sessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found", string(apierr.CodeSessionNotFound))
		return
	}
	if sess.AssignedAgentID != agentID {
		Error(w, http.StatusForbidden, "not assigned to this session", string(apierr.CodeNotAssigned))
		return
	}

	msgs, err := h.repo.GetMessages(r.Context(), sessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	Success(w, http.StatusOK, map[string]any{"messages": messagesToWire(msgs)})
}

// QueueSnapshot returns the current waiting queue and agent presence, a
// pull-based complement to the queue topic's push updates.
func (h *AgentHandler) QueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.authenticateAgent(r); !ok {
		Error(w, http.StatusUnauthorized, "missing or invalid credential", string(apierr.CodeUnauthorized))
		return
	}

	waiting, err := h.repo.GetWaitingSessionsOrdered(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	Success(w, http.StatusOK, map[string]any{
		"waiting": sessionsToWire(waiting),
		"agents":  presenceToWire(h.presence.Snapshot()),
	})
}
