package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
)

// ChatHandler serves the customer-facing REST surface: bootstrapping a
// chat before a websocket is open, fetching a session for page reload,
// and leaving a post-chat rating.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers the /api/chat/* routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/init", h.Init)
		r.Get("/session/{customerToken}", h.GetSession)
		r.Post("/rating", h.Rating)
	})
}

// Init starts a chat session without requiring a websocket connection
// first, for clients that bootstrap over REST before upgrading.
func (h *ChatHandler) Init(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerName  string `json:"customerName"`
		CustomerEmail string `json:"customerEmail"`
		SourceURL     string `json:"sourceUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "malformed request body", string(apierr.CodeInvalidSession))
		return
	}

	sess, err := h.machine.StartChat(r.Context(), body.CustomerName, body.CustomerEmail, body.SourceURL)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	// Assignment happens asynchronously via the dispatcher's kick, so the
	// response always reports queue position; the client learns of
	// assignment over its websocket's chat:assigned event.
	waiting, _ := h.repo.GetWaitingSessionsOrdered(r.Context())
	Success(w, http.StatusCreated, map[string]any{
		"sessionId":     sess.ID,
		"customerToken": sess.CustomerToken,
		"queue":         map[string]any{"position": len(waiting)},
	})
}

// GetSession returns a session's full state and transcript for a
// reconnecting customer, e.g. after a page reload.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "customerToken")
	sess, msgs, err := h.machine.Restore(r.Context(), token)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	Success(w, http.StatusOK, map[string]any{
		"sessionId":       sess.ID,
		"status":          sess.Status,
		"assignedAgentId": sess.AssignedAgentID,
		"messages":        messagesToWire(msgs),
	})
}

// Rating attaches a post-chat rating and optional feedback.
func (h *ChatHandler) Rating(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerToken string `json:"customerToken"`
		Rating        int    `json:"rating"`
		Feedback      string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "malformed request body", string(apierr.CodeInvalidSession))
		return
	}

	sess, _, err := h.machine.Restore(r.Context(), body.CustomerToken)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := h.machine.Rate(r.Context(), sess.ID, body.Rating, body.Feedback); err != nil {
		writeAPIError(w, err)
		return
	}

	Success(w, http.StatusOK, nil)
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
