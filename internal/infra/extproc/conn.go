package extproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"opmcpd/internal/domain"
)

// maxLineBytes bounds one framed message; tool results can carry
// large payloads so the ceiling is generous.
const maxLineBytes = 16 * 1024 * 1024

// lineConn frames JSON-RPC messages as newline-delimited JSON over a
// child process's stdin/stdout.
type lineConn struct {
	writeMu sync.Mutex
	streams domain.IOStreams

	lines   chan json.RawMessage
	readErr error
	done    chan struct{}

	closeOnce sync.Once
}

func newLineConn(streams domain.IOStreams) *lineConn {
	c := &lineConn{
		streams: streams,
		lines:   make(chan json.RawMessage, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *lineConn) readLoop() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.streams.Reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		select {
		case c.lines <- msg:
		case <-c.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.readErr = err
	}
}

func (c *lineConn) Send(ctx context.Context, msg json.RawMessage) error {
	if len(msg) == 0 {
		return errors.New("message is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.streams.Writer.Write(append(msg, '\n')); err != nil {
		return fmt.Errorf("%w: write: %s", domain.ErrConnectionClosed, err)
	}
	return nil
}

func (c *lineConn) Recv(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.lines:
		if !ok {
			if c.readErr != nil {
				return nil, fmt.Errorf("%w: %s", domain.ErrConnectionClosed, c.readErr)
			}
			return nil, domain.ErrConnectionClosed
		}
		return msg, nil
	}
}

func (c *lineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if cerr := c.streams.Writer.Close(); cerr != nil {
			err = cerr
		}
		if cerr := c.streams.Reader.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
