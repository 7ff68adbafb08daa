package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc's global encoding registry and
// forced on both ends via grpc.ForceServerCodec / grpc.ForceCodec. The
// teacher's generated api/proto package (protoc-gen-go-grpc output) is
// not part of the retrieval pack, so pkg/rpc defines its services by
// hand against a plain JSON wire codec instead of a .proto file. gRPC
// itself — framing, streaming, deadlines, TLS, interceptors — is used
// exactly as the teacher uses it; only the payload encoding differs
// from real protobuf.
const jsonCodecName = "heartwood-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal %T: %w", v, err)
	}
	return nil
}
