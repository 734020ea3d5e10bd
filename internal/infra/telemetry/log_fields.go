package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldServer     = "server"
	FieldSource     = "source"
	FieldTool       = "tool"
	FieldState      = "state"
	FieldDurationMs = "duration_ms"
	FieldContextID  = "context_id"
	FieldSessionID  = "session_id"
	FieldAgent      = "agent"
	FieldTransport  = "transport"
)

const (
	EventSpawnAttempt     = "spawn_attempt"
	EventSpawnFailure     = "spawn_failure"
	EventHandshakeSuccess = "handshake_success"
	EventHandshakeFailure = "handshake_failure"
	EventRouteError       = "route_error"
	EventRestartAttempt   = "restart_attempt"
	EventRestartGiveUp    = "restart_give_up"
	EventStopSuccess      = "stop_success"
	EventStopFailure      = "stop_failure"
	EventCatalogRefresh   = "catalog_refresh"
	EventNameConflict     = "name_conflict"
	EventConfigReload     = "config_reload"
	EventTurnLimit        = "turn_limit"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ServerField(server string) zap.Field {
	return zap.String(FieldServer, server)
}

func SourceField(source string) zap.Field {
	return zap.String(FieldSource, source)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func ContextIDField(value string) zap.Field {
	return zap.String(FieldContextID, value)
}

func SessionIDField(value string) zap.Field {
	return zap.String(FieldSessionID, value)
}

func AgentField(value string) zap.Field {
	return zap.String(FieldAgent, value)
}

func TransportField(value string) zap.Field {
	return zap.String(FieldTransport, value)
}
