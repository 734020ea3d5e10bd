package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opmcpd/internal/infra/agents"
	"opmcpd/internal/infra/telemetry"
)

// SessionState tracks a session through connect and disconnect.
type SessionState string

const (
	SessionActive       SessionState = "active"
	SessionDisconnected SessionState = "disconnected"
)

// SessionContext owns the agent lifecycle of one client connection.
// Privileged agents start eagerly at open, in priority order; the
// rest start lazily through EnsureAgent. Close stops everything this
// session started.
type SessionContext struct {
	id       string
	openedAt time.Time
	executor agents.Executor
	logger   *zap.Logger

	state   SessionState
	started []string
}

// OpenSession starts the privileged roster agents and returns the
// session. A privileged agent failing to start is logged and skipped;
// the session still opens.
func (r *Registry) OpenSession(ctx context.Context) (*SessionContext, error) {
	id := uuid.NewString()
	session := &SessionContext{
		id:       id,
		openedAt: time.Now(),
		executor: r.executor,
		logger:   r.logger.With(telemetry.SessionIDField(id)),
		state:    SessionActive,
	}
	if r.executor == nil {
		return session, nil
	}

	for _, agent := range r.roster.Privileged() {
		if err := r.executor.StartAgent(ctx, agent.ID); err != nil {
			session.logger.Warn("privileged agent failed to start",
				telemetry.AgentField(agent.ID),
				zap.Error(err))
			continue
		}
		session.started = append(session.started, agent.ID)
	}
	session.logger.Info("session opened",
		zap.Int("privileged_agents", len(session.started)))
	return session, nil
}

func (s *SessionContext) ID() string          { return s.id }
func (s *SessionContext) State() SessionState { return s.state }

// StartedAgents lists the agents this session is responsible for.
func (s *SessionContext) StartedAgents() []string {
	out := make([]string, len(s.started))
	copy(out, s.started)
	return out
}

// EnsureAgent lazily starts an on-demand agent and records it for
// teardown.
func (s *SessionContext) EnsureAgent(ctx context.Context, id string) error {
	if s.state != SessionActive {
		return fmt.Errorf("ensure agent %s: session closed", id)
	}
	if s.executor == nil || s.executor.Running(id) {
		return nil
	}
	if err := s.executor.StartAgent(ctx, id); err != nil {
		return err
	}
	s.started = append(s.started, id)
	return nil
}

// Close stops the session's agents in reverse start order.
func (s *SessionContext) Close(ctx context.Context) {
	if s.state != SessionActive {
		return
	}
	s.state = SessionDisconnected
	if s.executor == nil {
		return
	}
	for i := len(s.started) - 1; i >= 0; i-- {
		if err := s.executor.StopAgent(ctx, s.started[i]); err != nil {
			s.logger.Warn("agent stop failed",
				telemetry.AgentField(s.started[i]),
				zap.Error(err))
		}
	}
	s.logger.Info("session closed",
		telemetry.DurationField(time.Since(s.openedAt)))
}
