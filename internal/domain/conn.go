package domain

import (
	"context"
	"encoding/json"
)

// Conn is one bidirectional JSON-RPC message stream to a child
// process. Send and Recv honor context cancellation; Close is safe
// to call more than once.
type Conn interface {
	Send(ctx context.Context, msg json.RawMessage) error
	Recv(ctx context.Context) (json.RawMessage, error)
	Close() error
}
