package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"opmcpd/internal/infra/protocol"
	"opmcpd/internal/infra/telemetry"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 90 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHandler upgrades connections and runs one session per socket.
// Each text frame carries one JSON-RPC message.
type WSHandler struct {
	server   *protocol.Server
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(server *protocol.Server, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		server: server,
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The engine fronts local tooling; origin policy belongs to
			// whatever proxies it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sess, err := h.server.OpenSession(r.Context())
	if err != nil {
		h.logger.Error("session open failed", zap.Error(err))
		return
	}
	defer h.server.CloseSession(context.Background(), sess)

	h.logger.Info("websocket session opened",
		telemetry.TransportField("ws"),
		telemetry.ContextIDField(sess.ContextID()))

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	var writeMu sync.Mutex
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		resp, ok := h.server.HandleRaw(ctx, sess, frame)
		if !ok {
			continue
		}
		writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err = conn.WriteJSON(resp)
		writeMu.Unlock()
		if err != nil {
			h.logger.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}
