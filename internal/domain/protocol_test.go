package domain

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireCodeFrom(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: ErrInvalidRequest, code: WireInvalidRequest},
		{err: ErrMethodNotFound, code: WireMethodNotFound},
		{err: ErrToolNotFound, code: WireMethodNotFound},
		{err: ErrInvalidParams, code: WireInvalidParams},
		{err: ErrTurnLimitExceeded, code: WireInternalError},
		{err: ErrProcessDead, code: WireInternalError},
		{err: fmt.Errorf("call github:create_issue: %w", ErrToolNotFound), code: WireMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.code, WireCodeFrom(tt.err))
		})
	}
}

func TestResponseFromErrorKeepsID(t *testing.T) {
	resp := ResponseFromError(json.RawMessage(`42`), ErrToolNotFound)
	require.Equal(t, JSONRPCVersion, resp.JSONRPC)
	require.Equal(t, json.RawMessage(`42`), resp.ID)
	require.NotNil(t, resp.Error)
	require.Equal(t, WireMethodNotFound, resp.Error.Code)

	nullID := ResponseFromError(nil, ErrInvalidRequest)
	require.Equal(t, json.RawMessage("null"), nullID.ID)
}

func TestRequestIsNotification(t *testing.T) {
	require.True(t, Request{Method: "notifications/initialized"}.IsNotification())
	require.True(t, Request{ID: json.RawMessage("null")}.IsNotification())
	require.False(t, Request{ID: json.RawMessage(`1`)}.IsNotification())
}

func TestCodeFrom(t *testing.T) {
	code, ok := CodeFrom(fmt.Errorf("route: %w", ErrTurnLimitExceeded))
	require.True(t, ok)
	require.Equal(t, CodeResourceExhausted, code)

	code, ok = CodeFrom(E(CodeUnavailable, "extproc.call", "", ErrProcessDead))
	require.True(t, ok)
	require.Equal(t, CodeUnavailable, code)

	_, ok = CodeFrom(fmt.Errorf("opaque"))
	require.False(t, ok)
}
