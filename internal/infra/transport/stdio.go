// Package transport frames JSON-RPC traffic for the protocol server:
// stdio lines, HTTP posts, SSE streams, and WebSocket frames.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"opmcpd/internal/infra/protocol"
	"opmcpd/internal/infra/telemetry"
)

// maxFrameBytes bounds one line-delimited frame. Tool results carrying
// file contents get large; 16 MiB matches the child process transport.
const maxFrameBytes = 16 * 1024 * 1024

// ServeStdio runs one session over line-delimited JSON-RPC until the
// input closes or the context is cancelled. The whole process lifetime
// is one session.
func ServeStdio(ctx context.Context, server *protocol.Server, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("stdio")

	sess, err := server.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("open stdio session: %w", err)
	}
	defer server.CloseSession(context.Background(), sess)

	logger.Info("stdio transport ready",
		telemetry.TransportField("stdio"),
		telemetry.ContextIDField(sess.ContextID()))

	var writeMu sync.Mutex
	writer := bufio.NewWriter(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, ok := server.HandleRaw(ctx, sess, line)
		if !ok {
			continue
		}
		raw, err := json.Marshal(resp)
		if err != nil {
			logger.Error("response encode failed", zap.Error(err))
			continue
		}
		writeMu.Lock()
		_, werr := writer.Write(append(raw, '\n'))
		if werr == nil {
			werr = writer.Flush()
		}
		writeMu.Unlock()
		if werr != nil {
			return fmt.Errorf("write stdio response: %w", werr)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdio: %w", err)
	}
	logger.Info("stdio input closed")
	return nil
}
