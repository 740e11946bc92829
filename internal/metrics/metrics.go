// Package metrics provides Prometheus instrumentation for the chat
// broker, exposed on /metrics as a natural extension of the admin-stats
// topic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics.
var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatbroker_queue_depth",
		Help: "Number of sessions currently waiting for assignment.",
	})

	SessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatbroker_sessions_by_status",
		Help: "Number of sessions currently in each lifecycle status.",
	}, []string{"status"})

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbroker_assignments_total",
		Help: "Total number of sessions assigned to an agent, by path.",
	}, []string{"path"}) // auto | manual

	IdleAbandonmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatbroker_idle_abandonments_total",
		Help: "Total number of sessions abandoned by the idle reaper.",
	})
)

// Agent metrics.
var (
	AgentUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatbroker_agent_utilization",
		Help: "Fraction of an agent's capacity currently in use.",
	}, []string{"agent_id"})

	AgentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatbroker_agents_online",
		Help: "Number of agents currently online.",
	})
)

// Connection metrics.
var (
	WSConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatbroker_ws_connections_active",
		Help: "Number of active websocket connections, by role.",
	}, []string{"role"})

	WSMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbroker_ws_messages_total",
		Help: "Total number of websocket frames processed, by direction.",
	}, []string{"direction"}) // inbound | outbound
)
