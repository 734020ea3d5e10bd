package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/protocol"
	"opmcpd/internal/infra/telemetry"
)

const maxHTTPBodyBytes = 16 * 1024 * 1024

// HTTPHandler serves JSON-RPC over plain POST. Each request gets its
// own session: HTTP carries no connection lifetime, so the request is
// the session.
type HTTPHandler struct {
	server *protocol.Server
	logger *zap.Logger
}

func NewHTTPHandler(server *protocol.Server, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{server: server, logger: logger.Named("http")}
}

// Routes mounts the JSON-RPC endpoint and the health probe.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleRPC)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

func (h *HTTPHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.server.OpenSession(r.Context())
	if err != nil {
		h.logger.Error("session open failed", zap.Error(err))
		writeJSON(w, http.StatusOK,
			domain.NewErrorResponse(nil, domain.WireInternalError, "session open failed: "+err.Error()))
		return
	}
	defer h.server.CloseSession(context.Background(), sess)

	resp, ok := h.server.HandleRaw(r.Context(), sess, body)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mode":   string(h.server.Mode()),
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// StartHTTPServer serves the handler until the context is cancelled,
// then drains with a short grace period.
func StartHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("http transport listening",
			telemetry.TransportField("http"),
			zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
