package api

import "github.com/ashureev/chatbroker/internal/domain"

func sessionsToWire(sessions []*domain.ChatSession) []map[string]any {
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]any{
			"sessionId":       s.ID,
			"customerName":    s.CustomerName,
			"status":          s.Status,
			"assignedAgentId": s.AssignedAgentID,
			"createdAt":       s.CreatedAt.UnixMilli(),
		})
	}
	return out
}

func presenceToWire(agents []domain.AgentPresence) []map[string]any {
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"agentId":      a.AgentID,
			"displayName":  a.DisplayName,
			"state":        a.State,
			"currentChats": a.CurrentChats,
			"maxChats":     a.MaxChats,
		})
	}
	return out
}
