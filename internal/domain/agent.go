package domain

import "time"

// PresenceState is an agent's availability for new chat assignments.
type PresenceState string

const (
	PresenceOffline PresenceState = "offline"
	PresenceOnline  PresenceState = "online"
	PresenceBusy    PresenceState = "busy"
)

// AgentPresence tracks a customer-service agent's capacity and live state.
type AgentPresence struct {
	AgentID      string
	DisplayName  string
	State        PresenceState
	CurrentChats int
	MaxChats     int
	LastSeenAt   time.Time
}

// IsAvailable reports whether the agent can accept one more chat.
func (a *AgentPresence) IsAvailable() bool {
	return a.State == PresenceOnline && a.CurrentChats < a.MaxChats
}

// Utilization returns the agent's current load as a fraction of capacity,
// 0 when MaxChats is 0.
func (a *AgentPresence) Utilization() float64 {
	if a.MaxChats == 0 {
		return 0
	}
	return float64(a.CurrentChats) / float64(a.MaxChats)
}
