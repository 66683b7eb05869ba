// Package transport implements the gRPC wire surface for both the
// client-facing broker service and the primary-to-follower replication
// service, without protoc-generated stubs: messages are plain Go structs
// marshalled through a hand-registered JSON codec, and the two
// grpc.ServiceDesc values are built by hand, the same "custom codec over
// the standard transport" approach the teacher uses for its vsock
// protocol, adapted from a framed net.Conn onto grpc's own codec hook.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's global codec registry and must
// match the "content-subtype" every client in this package dials with
// (see callOptions in client.go); the server picks the codec from each
// request's content-subtype.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
