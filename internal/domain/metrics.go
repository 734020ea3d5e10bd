package domain

import "time"

// Metrics receives engine-level observations. Implementations must be
// safe for concurrent use; components hold this interface so nothing
// outside telemetry depends on a metrics backend.
type Metrics interface {
	// ObserveToolCall records one tool invocation by origin.
	ObserveToolCall(origin ToolOrigin, duration time.Duration, err error)
	// ObserveRoute records one routed call to an external server.
	ObserveRoute(server string, duration time.Duration, err error)
	// ObserveRestart records one external process restart attempt.
	ObserveRestart(server string, err error)
	// SetActiveContexts publishes the number of live request contexts.
	SetActiveContexts(count int)
	// SetCatalogSize publishes per-source tool counts after a refresh.
	SetCatalogSize(source string, count int)
}
