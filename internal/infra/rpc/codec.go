// Package rpc exposes the engine over gRPC. The service speaks JSON
// payloads through a custom codec so the wire types stay the shared
// JSON-RPC structures rather than a parallel protobuf schema.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype the engine service negotiates.
// Clients select it with grpc.CallContentSubtype; the health service
// stays on the default proto codec.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec satisfies grpc/encoding.Codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return raw, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }
