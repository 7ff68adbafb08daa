/*
Package rpc defines the wire protocol between a follower and the
machine currently acting as primary: message shapes (wire.go), a
hand-rolled grpc.ServiceDesc plus client/server stubs (service.go)
standing in for protoc-gen-go-grpc output, a JSON encoding.Codec forced
on both ends in place of real protobuf (codec.go), and the mTLS
dial/listen options every Heartwood RPC endpoint shares (tls.go).

The teacher's generated api/proto package is excluded from the
retrieval pack as generated code, so this package hand-defines the
service instead of depending on protoc output. gRPC's own machinery —
framing, deadlines, streaming, TLS, interceptors — is exercised exactly
as the teacher exercises it.
*/
package rpc
