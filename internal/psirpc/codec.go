// Package psirpc wires the wire.ExecuteRequest/ExecuteResult envelope onto
// a real gRPC transport (streaming, TLS, metadata, status codes) without a
// protoc-generated .pb.go: instead of hand-authoring a FileDescriptorProto
// byte blob (which would panic at init() time on the first typo, with no
// toolchain run available to catch it), the wire package's hand-rolled
// protobuf-shaped MarshalBinary/UnmarshalBinary is registered as a named
// grpc/encoding.Codec. See SPEC_FULL.md §9.1 for the full rationale.
package psirpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc/encoding under the same name grpc-go's
// own protobuf codec would use ("proto"). Client and server are both built
// from the same struct definitions in this module, so self-consistency is
// all that's required; registering under the conventional name means a
// stock grpc-go client dialing without an explicit content-subtype still
// resolves to this codec by default.
const CodecName = "proto"

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

type binaryUnmarshaler interface {
	UnmarshalBinary([]byte) error
}

// codec adapts wire's MarshalBinary/UnmarshalBinary methods to grpc's
// encoding.Codec interface.
type codec struct{}

func (codec) Name() string { return CodecName }

func (codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(binaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("psirpc: %T does not implement MarshalBinary", v)
	}
	return m.MarshalBinary()
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	u, ok := v.(binaryUnmarshaler)
	if !ok {
		return fmt.Errorf("psirpc: %T does not implement UnmarshalBinary", v)
	}
	return u.UnmarshalBinary(data)
}

func init() {
	encoding.RegisterCodec(codec{})
}
