// Package extproc spawns, supervises, and routes calls to external
// subprocess-hosted tool servers speaking line-delimited JSON-RPC.
package extproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/telemetry"
)

// Launcher starts one child process for a server config. Tests swap
// this for an in-memory fake.
type Launcher interface {
	Start(ctx context.Context, cfg domain.ServerConfig) (domain.IOStreams, domain.StopFn, error)
}

type CommandLauncher struct {
	logger *zap.Logger
}

type CommandLauncherOptions struct {
	Logger *zap.Logger
}

func NewCommandLauncher(opts CommandLauncherOptions) *CommandLauncher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandLauncher{logger: logger}
}

func (l *CommandLauncher) Start(ctx context.Context, cfg domain.ServerConfig) (domain.IOStreams, domain.StopFn, error) {
	if cfg.Command == "" {
		return domain.IOStreams{}, nil, fmt.Errorf("%w: command is required", domain.ErrConfigInvalid)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), formatEnv(childEnv(cfg))...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.IOStreams{}, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return domain.IOStreams{}, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return domain.IOStreams{}, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return domain.IOStreams{}, nil, fmt.Errorf("%w: %s", domain.ErrSpawnFailed, classifyStartError(err))
	}

	go mirrorStderr(stderr, l.logger.With(
		telemetry.ServerField(cfg.Name),
		zap.String("stream", "stderr"),
	))

	stop := func(stopCtx context.Context) error {
		if err := stdin.Close(); err != nil {
			l.logger.Warn("close stdin failed", telemetry.ServerField(cfg.Name), zap.Error(err))
		}
		if err := stdout.Close(); err != nil {
			l.logger.Warn("close stdout failed", telemetry.ServerField(cfg.Name), zap.Error(err))
		}
		if err := stderr.Close(); err != nil {
			l.logger.Warn("close stderr failed", telemetry.ServerField(cfg.Name), zap.Error(err))
		}
		return waitForProcess(stopCtx, cmd)
	}

	return domain.IOStreams{Reader: stdout, Writer: stdin}, stop, nil
}

// childEnv merges declared env with auth injection. Only env_var auth
// touches the child environment; header-based methods are recorded on
// the config for HTTP-fronted providers.
func childEnv(cfg domain.ServerConfig) map[string]string {
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if cfg.AuthMethod == domain.AuthEnvVar && cfg.APIKey != "" {
		env[cfg.ResolvedAPIKeyEnv()] = cfg.APIKey
	}
	return env
}

func waitForProcess(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := <-done
		if err != nil {
			return fmt.Errorf("killed after teardown deadline: %w", err)
		}
		return nil
	}
}

const maxStderrLineLength = 32 * 1024

func mirrorStderr(reader io.Reader, logger *zap.Logger) {
	buf := bufio.NewReaderSize(reader, 8192)
	for {
		line, isPrefix, err := buf.ReadLine()
		if len(line) > 0 {
			trimmed := strings.TrimRight(string(line), "\r\n")
			if trimmed != "" {
				if len(trimmed) > maxStderrLineLength {
					trimmed = trimmed[:maxStderrLineLength] + "... [truncated]"
				}
				logger.Info(trimmed)
			}
			if isPrefix {
				for isPrefix && err == nil {
					_, isPrefix, err = buf.ReadLine()
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

func classifyStartError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, err.Error())
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err.Error())
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, exec.ErrNotFound) || errors.Is(pathErr.Err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, err.Error())
		}
		if errors.Is(pathErr.Err, os.ErrPermission) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err.Error())
		}
	}
	return err
}

// stopTimeout bounds process teardown during StopAll and restarts.
const stopTimeout = 5 * time.Second
