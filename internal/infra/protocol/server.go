// Package protocol implements the JSON-RPC request surface: method
// dispatch, serving modes, and embedded documentation resources.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/registry"
	"opmcpd/internal/infra/telemetry"
)

// Mode selects what the outer tools/list surface exposes.
type Mode string

const (
	// ModeFull lists the whole aggregated catalog.
	ModeFull Mode = "full"
	// ModeCompact lists exactly the four meta-tools; the catalog is
	// reached through them.
	ModeCompact Mode = "compact"
	// ModeAgents is compact plus eager run-on-connection agents.
	ModeAgents Mode = "agents"
)

// ParseMode validates a mode flag value.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeFull, ModeCompact, ModeAgents:
		return Mode(value), nil
	case "":
		return ModeCompact, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", domain.ErrConfigInvalid, value)
	}
}

const (
	serverName    = "opmcpd"
	serverVersion = "0.1.0"
)

// Server dispatches decoded JSON-RPC requests against a session.
// Transports own framing; the server owns semantics.
type Server struct {
	registry *registry.Registry
	mode     Mode
	logger   *zap.Logger
}

type ServerOptions struct {
	Registry *registry.Registry
	Mode     Mode
	Logger   *zap.Logger
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeCompact
	}
	return &Server{
		registry: opts.Registry,
		mode:     mode,
		logger:   logger.Named("protocol"),
	}
}

// Mode returns the serving mode.
func (s *Server) Mode() Mode { return s.mode }

// Session binds one client connection (or one HTTP request) to a
// request context and, in agents mode, an agent session.
type Session struct {
	rc     *registry.RequestContext
	agents *registry.SessionContext
}

// ContextID returns the underlying request context id.
func (sess *Session) ContextID() string { return sess.rc.ID() }

// StartedAgents lists roster agents running for this session. Empty
// outside agents mode.
func (sess *Session) StartedAgents() []string {
	if sess.agents == nil {
		return nil
	}
	return sess.agents.StartedAgents()
}

// OpenSession resolves a fresh request context. In agents mode the
// privileged roster starts eagerly.
func (s *Server) OpenSession(ctx context.Context) (*Session, error) {
	rc, err := s.registry.NewRequestContext(ctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{rc: rc}
	if s.mode == ModeAgents {
		agentSession, err := s.registry.OpenSession(ctx)
		if err != nil {
			s.registry.Release(rc)
			return nil, err
		}
		sess.agents = agentSession
	}
	return sess, nil
}

// CloseSession tears the session down. The request context release
// is the only cleanup tools get.
func (s *Server) CloseSession(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	if sess.agents != nil {
		sess.agents.Close(ctx)
	}
	s.registry.Release(sess.rc)
}

// HandleRaw parses one frame and dispatches it. ok is false when no
// response must be written (notifications).
func (s *Server) HandleRaw(ctx context.Context, sess *Session, raw []byte) (domain.Response, bool) {
	var req domain.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return domain.NewErrorResponse(nil, domain.WireParseError, "parse error: "+err.Error()), true
	}
	return s.Handle(ctx, sess, req)
}

// Handle dispatches one decoded request.
func (s *Server) Handle(ctx context.Context, sess *Session, req domain.Request) (domain.Response, bool) {
	if req.JSONRPC != "" && req.JSONRPC != domain.JSONRPCVersion {
		if req.IsNotification() {
			return domain.Response{}, false
		}
		return domain.NewErrorResponse(req.ID, domain.WireInvalidRequest, "unsupported jsonrpc version"), true
	}
	if req.Method == "" {
		if req.IsNotification() {
			return domain.Response{}, false
		}
		return domain.NewErrorResponse(req.ID, domain.WireInvalidRequest, "method is required"), true
	}

	result, err := s.dispatch(ctx, sess, req)
	if req.IsNotification() {
		return domain.Response{}, false
	}
	if err != nil {
		s.logger.Debug("request failed",
			zap.String("method", req.Method),
			telemetry.ContextIDField(sess.rc.ID()),
			zap.Error(err))
		return domain.ResponseFromError(req.ID, err), true
	}
	resp, marshalErr := domain.NewResponse(req.ID, result)
	if marshalErr != nil {
		return domain.NewErrorResponse(req.ID, domain.WireInternalError, marshalErr.Error()), true
	}
	return resp, true
}

func (s *Server) dispatch(ctx context.Context, sess *Session, req domain.Request) (any, error) {
	switch req.Method {
	case "initialize":
		return s.initializeResult(), nil
	case "initialized", "notifications/initialized":
		return struct{}{}, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return s.toolsList(sess, req.Params)
	case "tools/call":
		return s.toolsCall(ctx, sess, req.Params)
	case "resources/list":
		return s.resourcesList()
	case "resources/read":
		return s.resourcesRead(req.Params)
	default:
		return nil, fmt.Errorf("%q: %w", req.Method, domain.ErrMethodNotFound)
	}
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

func (s *Server) initializeResult() initializeResult {
	result := initializeResult{
		ProtocolVersion: domain.ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{},
		},
		ServerInfo: serverInfo{Name: serverName, Version: serverVersion},
	}
	if s.mode != ModeFull {
		result.Instructions = compactInstructions
	}
	return result
}

type toolsListParams struct {
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
	Category string `json:"category"`
}

func (s *Server) toolsList(sess *Session, rawParams json.RawMessage) (any, error) {
	var params toolsListParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidParams, err)
		}
	}
	if s.mode != ModeFull {
		return metaToolsPage(), nil
	}
	return sess.rc.List(params.Offset, params.Limit, params.Category), nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) toolsCall(ctx context.Context, sess *Session, rawParams json.RawMessage) (any, error) {
	var params toolsCallParams
	if len(rawParams) == 0 {
		return nil, fmt.Errorf("%w: params are required", domain.ErrInvalidParams)
	}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidParams, err)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidParams)
	}

	if s.mode != ModeFull {
		return s.callMetaTool(ctx, sess, params.Name, params.Arguments)
	}
	raw, err := sess.rc.Execute(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, err
	}
	return toolResult(raw), nil
}

// toolResult normalizes raw invoker output into a call result. Output
// that already carries a content array passes through untouched.
func toolResult(raw json.RawMessage) any {
	var probe struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.Content) > 0 {
		return raw
	}
	text := string(raw)
	if text == "" {
		text = "null"
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}
