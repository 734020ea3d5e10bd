package extproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/telemetry"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultHandshakeRetries  = 3
	defaultCallTimeout       = 60 * time.Second
	clientName               = "opmcpd"
	clientVersion            = "0.1.0"
)

// Client owns one external server process: its streams, its request
// id sequence, and its cached namespaced tool list. Calls are
// serialized; a process speaks to one request at a time.
type Client struct {
	cfg      domain.ServerConfig
	launcher Launcher
	logger   *zap.Logger

	handshakeTimeout time.Duration
	handshakeRetries int
	callTimeout      time.Duration

	seq atomic.Uint64

	callMu sync.Mutex
	conn   domain.Conn
	stop   domain.StopFn

	stateMu sync.RWMutex
	state   domain.ClientState

	toolsMu sync.RWMutex
	tools   []domain.ToolDefinition
}

type ClientOptions struct {
	Launcher         Launcher
	Logger           *zap.Logger
	HandshakeTimeout time.Duration
	HandshakeRetries int
	CallTimeout      time.Duration
}

func NewClient(cfg domain.ServerConfig, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	handshakeRetries := opts.HandshakeRetries
	if handshakeRetries <= 0 {
		handshakeRetries = defaultHandshakeRetries
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Client{
		cfg:              cfg,
		launcher:         opts.Launcher,
		logger:           logger.With(telemetry.ServerField(cfg.Name)),
		handshakeTimeout: handshakeTimeout,
		handshakeRetries: handshakeRetries,
		callTimeout:      callTimeout,
		state:            domain.StateStopped,
	}
}

// Name returns the configured server name used as the namespace prefix.
func (c *Client) Name() string { return c.cfg.Name }

// State returns the current lifecycle state.
func (c *Client) State() domain.ClientState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(state domain.ClientState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// Start spawns the process and completes the initialize handshake
// with bounded retries. A handshake retry respawns the process.
func (c *Client) Start(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.handshakeRetries; attempt++ {
		c.logger.Info("spawning external server",
			telemetry.EventField(telemetry.EventSpawnAttempt),
			zap.Int("attempt", attempt))

		streams, stop, err := c.launcher.Start(ctx, c.cfg)
		if err != nil {
			c.logger.Warn("spawn failed",
				telemetry.EventField(telemetry.EventSpawnFailure),
				zap.Int("attempt", attempt),
				zap.Error(err))
			lastErr = err
			// Spawn errors are config-shaped; retrying the same
			// executable will not change the outcome.
			if errors.Is(err, domain.ErrExecutableNotFound) || errors.Is(err, domain.ErrConfigInvalid) {
				c.setState(domain.StateStopped)
				return err
			}
			continue
		}
		c.conn = newLineConn(streams)
		c.stop = stop
		c.setState(domain.StateSpawned)

		c.setState(domain.StateHandshaking)
		started := time.Now()
		if err := c.handshake(ctx); err != nil {
			c.logger.Warn("handshake failed",
				telemetry.EventField(telemetry.EventHandshakeFailure),
				zap.Int("attempt", attempt),
				telemetry.DurationField(time.Since(started)),
				zap.Error(err))
			lastErr = err
			c.teardownLocked()
			continue
		}

		c.setState(domain.StateReady)
		c.logger.Info("handshake complete",
			telemetry.EventField(telemetry.EventHandshakeSuccess),
			telemetry.DurationField(time.Since(started)))

		if err := c.refreshToolsLocked(ctx); err != nil {
			c.logger.Warn("initial tools/list failed", zap.Error(err))
		}
		return nil
	}

	c.setState(domain.StateStopped)
	if lastErr == nil {
		lastErr = domain.ErrHandshakeTimeout
	}
	return fmt.Errorf("start %s: %w", c.cfg.Name, lastErr)
}

func (c *Client) handshake(ctx context.Context) error {
	hsCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	initParams := &mcp.InitializeParams{
		ProtocolVersion: domain.ProtocolVersion,
		ClientInfo: &mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
		Capabilities: &mcp.ClientCapabilities{},
	}
	wire, wantID, err := c.buildRequest("initialize", initParams)
	if err != nil {
		return err
	}
	if err := c.conn.Send(hsCtx, wire); err != nil {
		return fmt.Errorf("send initialize: %w", err)
	}
	resp, err := c.awaitResponse(hsCtx, wantID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", domain.ErrHandshakeTimeout, c.handshakeTimeout)
		}
		return fmt.Errorf("recv initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %s", resp.Error.Message)
	}
	if err := validateInitializeResult(resp.Result); err != nil {
		return err
	}

	initialized, err := jsonrpc.EncodeMessage(&jsonrpc.Request{Method: "notifications/initialized"})
	if err != nil {
		return fmt.Errorf("encode initialized: %w", err)
	}
	if err := c.conn.Send(hsCtx, initialized); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}
	return nil
}

func validateInitializeResult(raw json.RawMessage) error {
	if len(raw) == 0 {
		return errors.New("initialize response missing result")
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	if result.ProtocolVersion == "" {
		return errors.New("initialize result missing protocolVersion")
	}
	if result.ServerInfo == nil || result.ServerInfo.Name == "" {
		return errors.New("initialize result missing serverInfo")
	}
	return nil
}

// RefreshTools re-runs tools/list and replaces the cached list.
func (c *Client) RefreshTools(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	return c.refreshToolsLocked(ctx)
}

func (c *Client) refreshToolsLocked(ctx context.Context) error {
	if c.State() != domain.StateReady {
		return fmt.Errorf("refresh tools %s: %w", c.cfg.Name, domain.ErrProcessDead)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	wire, wantID, err := c.buildRequest("tools/list", struct{}{})
	if err != nil {
		return err
	}
	if err := c.conn.Send(callCtx, wire); err != nil {
		c.markDegraded(err)
		return fmt.Errorf("send tools/list: %w", err)
	}
	resp, err := c.awaitResponse(callCtx, wantID)
	if err != nil {
		c.markDegraded(err)
		return fmt.Errorf("recv tools/list: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("tools/list error: %s", resp.Error.Message)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("decode tools/list result: %w", err)
	}

	tools := make([]domain.ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		def := domain.ToolDefinition{
			Name:        domain.QualifiedName(c.cfg.Name, tool.Name),
			Description: fmt.Sprintf("[%s] %s", c.cfg.Name, tool.Description),
			Origin:      domain.OriginExternal,
			Category:    "external",
			Tags:        []string{c.cfg.Name},
		}
		if tool.InputSchema != nil {
			if raw, err := json.Marshal(tool.InputSchema); err == nil {
				def.InputSchema = raw
			}
		}
		tools = append(tools, def)
	}

	c.toolsMu.Lock()
	c.tools = tools
	c.toolsMu.Unlock()
	c.logger.Debug("tool list refreshed", zap.Int("tools", len(tools)))
	return nil
}

// Tools returns the cached namespaced tool list.
func (c *Client) Tools() []domain.ToolDefinition {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]domain.ToolDefinition, len(c.tools))
	for i, tool := range c.tools {
		out[i] = tool.Clone()
	}
	return out
}

// Call routes one tools/call to the process. tool is the bare remote
// name, without the namespace prefix.
func (c *Client) Call(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.State() != domain.StateReady {
		return nil, fmt.Errorf("call %s: %w", domain.QualifiedName(c.cfg.Name, tool), domain.ErrProcessDead)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	params := &mcp.CallToolParams{Name: tool}
	if len(args) > 0 {
		params.Arguments = args
	}
	wire, wantID, err := c.buildRequest("tools/call", params)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(callCtx, wire); err != nil {
		c.markDegraded(err)
		return nil, fmt.Errorf("send tools/call: %w", err)
	}
	resp, err := c.awaitResponse(callCtx, wantID)
	if err != nil {
		c.markDegraded(err)
		return nil, fmt.Errorf("recv tools/call: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("call %s: %s: %w",
			domain.QualifiedName(c.cfg.Name, tool), resp.Error.Message, domain.ErrToolNotFound)
	}
	return resp.Result, nil
}

// Stop tears the process down and clears the cached tools.
func (c *Client) Stop(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	err := c.teardown(ctx)
	c.setState(domain.StateStopped)
	return err
}

func (c *Client) teardownLocked() {
	_ = c.teardown(context.Background())
}

func (c *Client) teardown(ctx context.Context) error {
	var err error
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.stop != nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		err = c.stop(stopCtx)
		c.stop = nil
	}
	return err
}

func (c *Client) markDegraded(cause error) {
	c.setState(domain.StateDegraded)
	c.logger.Warn("marking server degraded",
		telemetry.EventField(telemetry.EventRouteError),
		telemetry.StateField(string(domain.StateDegraded)),
		zap.Error(cause))
}

// buildRequest encodes one request and returns the raw id for
// response correlation.
func (c *Client) buildRequest(method string, params any) (json.RawMessage, json.RawMessage, error) {
	seq := c.seq.Add(1)
	idText := fmt.Sprintf("%s-%s-%d", clientName, method, seq)
	id, err := jsonrpc.MakeID(idText)
	if err != nil {
		return nil, nil, fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	wire, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	wantID, err := json.Marshal(idText)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request id: %w", err)
	}
	return json.RawMessage(wire), wantID, nil
}

type wireResponse struct {
	ID     json.RawMessage  `json:"id"`
	Method string           `json:"method"`
	Result json.RawMessage  `json:"result"`
	Error  *domain.WireError `json:"error"`
}

// awaitResponse reads frames until the one matching wantID arrives.
// Notifications and stale responses from a prior timed-out call are
// skipped.
func (c *Client) awaitResponse(ctx context.Context, wantID json.RawMessage) (*wireResponse, error) {
	for {
		raw, err := c.conn.Recv(ctx)
		if err != nil {
			return nil, err
		}
		var resp wireResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Debug("skipping undecodable frame", zap.Error(err))
			continue
		}
		if resp.Method != "" && len(resp.ID) == 0 {
			continue
		}
		if !bytes.Equal(resp.ID, wantID) {
			c.logger.Debug("skipping frame with unexpected id",
				zap.String("got", string(resp.ID)),
				zap.String("want", string(wantID)))
			continue
		}
		return &resp, nil
	}
}
