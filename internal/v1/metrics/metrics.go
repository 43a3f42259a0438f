package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the multiplayer coordination server.
//
// Naming convention: namespace_subsystem_name
// - namespace: phira_mp
// - subsystem: session, room, federation
var (
	// ActiveConnections tracks the current number of open TCP sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "phira_mp",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of open client connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "phira_mp",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the player count per room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "phira_mp",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_id"})

	// Commands counts processed client commands by kind and outcome.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phira_mp",
		Subsystem: "session",
		Name:      "commands_total",
		Help:      "Total client commands processed",
	}, []string{"kind", "status"})

	// FramingErrors counts fatal decode failures that closed a connection.
	FramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phira_mp",
		Subsystem: "session",
		Name:      "framing_errors_total",
		Help:      "Total framing/decode errors that closed a connection",
	})

	// BroadcastFanout counts server commands fanned out to room members.
	BroadcastFanout = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phira_mp",
		Subsystem: "room",
		Name:      "broadcast_commands_total",
		Help:      "Total server commands sent by room broadcasts",
	})

	// CommandDuration tracks time spent processing client commands.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "phira_mp",
		Subsystem: "session",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing client commands",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"kind"})

	// FederationTickets counts ticket lifecycle events.
	FederationTickets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phira_mp",
		Subsystem: "federation",
		Name:      "tickets_total",
		Help:      "Total federation tickets by lifecycle event",
	}, []string{"event"})

	// CircuitBreakerState reports the breaker state of upstream clients.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "phira_mp",
		Subsystem: "upstream",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open)",
	}, []string{"upstream"})

	// CircuitBreakerFailures counts requests dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phira_mp",
		Subsystem: "upstream",
		Name:      "circuit_breaker_failures_total",
		Help:      "Requests rejected while a circuit breaker was open",
	}, []string{"upstream"})

	// RateLimitExceeded counts commands rejected by a rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phira_mp",
		Subsystem: "session",
		Name:      "rate_limit_exceeded_total",
		Help:      "Commands rejected because a rate limit was reached",
	}, []string{"class"})
)

func IncConnection() { ActiveConnections.Inc() }
func DecConnection() { ActiveConnections.Dec() }
