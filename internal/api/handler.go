// Package api provides the REST surface of the chat broker: chat
// bootstrap/rating for customers without an open websocket yet, and
// authenticated read endpoints for agents, alongside /health and
// /metrics.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/identity"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/queue"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

// Handler provides common dependencies shared by the REST handlers.
type Handler struct {
	repo       store.Repository
	presence   *presence.Registry
	machine    *session.Machine
	dispatcher *queue.Dispatcher
	authn      identity.Authenticator
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, pres *presence.Registry, machine *session.Machine, dispatcher *queue.Dispatcher, authn identity.Authenticator) *Handler {
	return &Handler{repo: repo, presence: pres, machine: machine, dispatcher: dispatcher, authn: authn}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"message":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes the spec's non-2xx error shape: {success:false, message, code?}.
func Error(w http.ResponseWriter, status int, message string, code string) {
	body := map[string]any{"success": false, "message": message}
	if code != "" {
		body["code"] = code
	}
	JSON(w, status, body)
}

// Success writes the spec's 2xx shape: {success:true, data?}.
func Success(w http.ResponseWriter, status int, data interface{}) {
	body := map[string]any{"success": true}
	if data != nil {
		body["data"] = data
	}
	JSON(w, status, body)
}

// authenticateAgent extracts and verifies the bearer credential on a REST
// request, the same contract the websocket gateway uses.
func (h *Handler) authenticateAgent(r *http.Request) (string, string, bool) {
	token := identity.BearerTokenFromRequest(r)
	p, err := h.authn.Authenticate(r.Context(), token)
	if err != nil || !p.IsStaff() {
		return "", "", false
	}
	return p.ID, p.DisplayName, true
}

// writeAPIError translates a sentinel error from apierr into the error
// response shape, picking an HTTP status from its wire code.
func writeAPIError(w http.ResponseWriter, err error) {
	code := apierr.CodeOf(err)
	Error(w, httpStatusFor(code), apierr.MessageOf(err), string(code))
}

func httpStatusFor(code apierr.Code) int {
	switch code {
	case apierr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apierr.CodeSessionNotFound:
		return http.StatusNotFound
	case apierr.CodeEmptyMessage, apierr.CodeInvalidSession, apierr.CodeInvalidRating:
		return http.StatusBadRequest
	case apierr.CodeAlreadyAssigned, apierr.CodeAtCapacity, apierr.CodeNotOnline,
		apierr.CodeNotAssigned, apierr.CodeTargetNotOnline, apierr.CodeTargetAtCapacity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
