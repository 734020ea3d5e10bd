package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/protocol"
	"opmcpd/internal/infra/telemetry"
)

// ssePingInterval keeps idle streams alive through proxies.
const ssePingInterval = 30 * time.Second

// SSEHandler serves a JSON-RPC session over server-sent events: the
// GET stream carries responses, a paired POST endpoint carries
// requests. One stream is one session.
type SSEHandler struct {
	server *protocol.Server
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*sseStream
}

type sseStream struct {
	session  *protocol.Session
	outbound chan domain.Response
}

func NewSSEHandler(server *protocol.Server, logger *zap.Logger) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEHandler{
		server:  server,
		logger:  logger.Named("sse"),
		streams: make(map[string]*sseStream),
	}
}

// Routes mounts the stream and message endpoints.
func (h *SSEHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", h.handleStream)
	mux.HandleFunc("/message", h.handleMessage)
	return mux
}

func (h *SSEHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess, err := h.server.OpenSession(r.Context())
	if err != nil {
		http.Error(w, "session open failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	streamID := uuid.NewString()
	stream := &sseStream{
		session:  sess,
		outbound: make(chan domain.Response, 16),
	}
	h.mu.Lock()
	h.streams[streamID] = stream
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.streams, streamID)
		h.mu.Unlock()
		h.server.CloseSession(context.Background(), sess)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.logger.Info("sse stream opened",
		telemetry.TransportField("sse"),
		telemetry.ContextIDField(sess.ContextID()))

	if err := h.writeInitialBurst(r.Context(), w, streamID, sess); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("sse stream closed",
				telemetry.ContextIDField(sess.ContextID()))
			return
		case <-ping.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case resp := <-stream.outbound:
			if err := writeSSEEvent(w, "message", resp); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeInitialBurst advertises the message endpoint and the session's
// starting state before any request flows.
func (h *SSEHandler) writeInitialBurst(ctx context.Context, w io.Writer, streamID string, sess *protocol.Session) error {
	if err := writeSSEEvent(w, "endpoint", fmt.Sprintf("/message?session=%s", streamID)); err != nil {
		return err
	}
	if err := writeSSEEvent(w, "chat_control", map[string]any{
		"session": streamID,
		"mode":    string(h.server.Mode()),
	}); err != nil {
		return err
	}

	listReq := domain.Request{
		JSONRPC: domain.JSONRPCVersion,
		ID:      json.RawMessage(`"sse-init"`),
		Method:  "tools/list",
	}
	if resp, ok := h.server.Handle(ctx, sess, listReq); ok && resp.Error == nil {
		if err := writeSSEEvent(w, "tools", json.RawMessage(resp.Result)); err != nil {
			return err
		}
	}

	return writeSSEEvent(w, "agents", map[string]any{
		"running": sess.StartedAgents(),
	})
}

func (h *SSEHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	streamID := r.URL.Query().Get("session")
	h.mu.Lock()
	stream, ok := h.streams[streamID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, hasResp := h.server.HandleRaw(r.Context(), stream.session, body)
	if hasResp {
		select {
		case stream.outbound <- resp:
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeSSEEvent(w io.Writer, event string, data any) error {
	var payload []byte
	switch v := data.(type) {
	case string:
		payload = []byte(v)
	case json.RawMessage:
		payload = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = raw
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
