package falkordb

import (
	"context"
	"time"
)

// EventKind identifies what happened on a connection.
type EventKind string

// Event kinds delivered to an EventListener.
const (
	EventConnect         EventKind = "connect"
	EventConnectFailed   EventKind = "connect_failed"
	EventCommand         EventKind = "command"
	EventCommandFailed   EventKind = "command_failed"
	EventTopologyChanged EventKind = "topology_changed"
)

// Event describes a single connection or command occurrence.
type Event struct {
	Kind EventKind

	// Addr is the dialed address for connect events.
	Addr string

	// Command is the command name for command events (e.g., "GRAPH.QUERY").
	Command string

	// Mode is the new topology for topology events.
	Mode Mode

	Duration time.Duration
	Err      error
}

// EventListener receives events synchronously on the goroutine that caused
// them. Implementations should return quickly.
type EventListener interface {
	OnEvent(ctx context.Context, ev Event)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(ctx context.Context, ev Event)

// OnEvent implements EventListener.
func (f EventListenerFunc) OnEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}
