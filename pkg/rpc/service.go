package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the full gRPC service name, mirroring what
// protoc-gen-go-grpc would have generated from a primary.proto.
const ServiceName = "heartwood.rpc.PrimaryService"

// PrimaryServiceServer is implemented by pkg/primaryrpc.Server. It
// stands in for the generated server interface a real .proto file
// would produce; method shapes follow distilled spec §4.6 exactly.
type PrimaryServiceServer interface {
	AllocateIDs(context.Context, *AllocateIDsRequest) (*AllocateIDsResponse, error)
	AcquireLocks(context.Context, *AcquireLocksRequest) (*AcquireLocksResponse, error)
	ReleaseLocks(context.Context, *ReleaseLocksRequest) (*ReleaseLocksResponse, error)
	Commit(context.Context, *CommitRequest) (*CommitResponse, error)
	PullUpdates(*PullUpdatesRequest, PrimaryService_PullUpdatesServer) error
	CopyStore(*CopyStoreRequest, PrimaryService_CopyStoreServer) error
	MasterEpochFor(context.Context, *MasterEpochForRequest) (*MasterEpochForResponse, error)
}

// UnimplementedPrimaryServiceServer can be embedded by implementations
// to satisfy forward compatibility, following the generated-code
// convention of never requiring every method to be hand-written.
type UnimplementedPrimaryServiceServer struct{}

func (UnimplementedPrimaryServiceServer) AllocateIDs(context.Context, *AllocateIDsRequest) (*AllocateIDsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AllocateIDs not implemented")
}
func (UnimplementedPrimaryServiceServer) AcquireLocks(context.Context, *AcquireLocksRequest) (*AcquireLocksResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AcquireLocks not implemented")
}
func (UnimplementedPrimaryServiceServer) ReleaseLocks(context.Context, *ReleaseLocksRequest) (*ReleaseLocksResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReleaseLocks not implemented")
}
func (UnimplementedPrimaryServiceServer) Commit(context.Context, *CommitRequest) (*CommitResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Commit not implemented")
}
func (UnimplementedPrimaryServiceServer) PullUpdates(*PullUpdatesRequest, PrimaryService_PullUpdatesServer) error {
	return status.Error(codes.Unimplemented, "method PullUpdates not implemented")
}
func (UnimplementedPrimaryServiceServer) CopyStore(*CopyStoreRequest, PrimaryService_CopyStoreServer) error {
	return status.Error(codes.Unimplemented, "method CopyStore not implemented")
}
func (UnimplementedPrimaryServiceServer) MasterEpochFor(context.Context, *MasterEpochForRequest) (*MasterEpochForResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method MasterEpochFor not implemented")
}

// PrimaryService_PullUpdatesServer is the server-side stream handle
// for PullUpdates, analogous to a generated *_Server stream type.
type PrimaryService_PullUpdatesServer interface {
	Send(*PullUpdatesResponse) error
	grpc.ServerStream
}

type primaryServicePullUpdatesServer struct {
	grpc.ServerStream
}

func (s *primaryServicePullUpdatesServer) Send(m *PullUpdatesResponse) error {
	return s.ServerStream.SendMsg(m)
}

// PrimaryService_CopyStoreServer is the server-side stream handle for
// CopyStore.
type PrimaryService_CopyStoreServer interface {
	Send(*CopyStoreResponse) error
	grpc.ServerStream
}

type primaryServiceCopyStoreServer struct {
	grpc.ServerStream
}

func (s *primaryServiceCopyStoreServer) Send(m *CopyStoreResponse) error {
	return s.ServerStream.SendMsg(m)
}

func _PrimaryService_AllocateIDs_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AllocateIDsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServiceServer).AllocateIDs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/AllocateIDs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServiceServer).AllocateIDs(ctx, req.(*AllocateIDsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PrimaryService_AcquireLocks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AcquireLocksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServiceServer).AcquireLocks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/AcquireLocks"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServiceServer).AcquireLocks(ctx, req.(*AcquireLocksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PrimaryService_ReleaseLocks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReleaseLocksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServiceServer).ReleaseLocks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ReleaseLocks"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServiceServer).ReleaseLocks(ctx, req.(*ReleaseLocksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PrimaryService_Commit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServiceServer).Commit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Commit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServiceServer).Commit(ctx, req.(*CommitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PrimaryService_MasterEpochFor_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MasterEpochForRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServiceServer).MasterEpochFor(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/MasterEpochFor"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServiceServer).MasterEpochFor(ctx, req.(*MasterEpochForRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PrimaryService_PullUpdates_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(PullUpdatesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PrimaryServiceServer).PullUpdates(m, &primaryServicePullUpdatesServer{stream})
}

func _PrimaryService_CopyStore_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(CopyStoreRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PrimaryServiceServer).CopyStore(m, &primaryServiceCopyStoreServer{stream})
}

// PrimaryServiceServiceDesc is the hand-defined counterpart to what
// protoc-gen-go-grpc would emit as _PrimaryService_serviceDesc.
var PrimaryServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PrimaryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AllocateIDs", Handler: _PrimaryService_AllocateIDs_Handler},
		{MethodName: "AcquireLocks", Handler: _PrimaryService_AcquireLocks_Handler},
		{MethodName: "ReleaseLocks", Handler: _PrimaryService_ReleaseLocks_Handler},
		{MethodName: "Commit", Handler: _PrimaryService_Commit_Handler},
		{MethodName: "MasterEpochFor", Handler: _PrimaryService_MasterEpochFor_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "PullUpdates", Handler: _PrimaryService_PullUpdates_Handler, ServerStreams: true},
		{StreamName: "CopyStore", Handler: _PrimaryService_CopyStore_Handler, ServerStreams: true},
	},
	Metadata: "pkg/rpc/service.go",
}

// RegisterPrimaryServiceServer registers srv against s, the same call
// shape a generated Register<Service>Server function would have.
func RegisterPrimaryServiceServer(s grpc.ServiceRegistrar, srv PrimaryServiceServer) {
	s.RegisterService(&PrimaryServiceServiceDesc, srv)
}

// PrimaryServiceClient is the hand-defined counterpart to a generated
// client interface.
type PrimaryServiceClient interface {
	AllocateIDs(ctx context.Context, in *AllocateIDsRequest, opts ...grpc.CallOption) (*AllocateIDsResponse, error)
	AcquireLocks(ctx context.Context, in *AcquireLocksRequest, opts ...grpc.CallOption) (*AcquireLocksResponse, error)
	ReleaseLocks(ctx context.Context, in *ReleaseLocksRequest, opts ...grpc.CallOption) (*ReleaseLocksResponse, error)
	Commit(ctx context.Context, in *CommitRequest, opts ...grpc.CallOption) (*CommitResponse, error)
	PullUpdates(ctx context.Context, in *PullUpdatesRequest, opts ...grpc.CallOption) (PrimaryService_PullUpdatesClient, error)
	CopyStore(ctx context.Context, in *CopyStoreRequest, opts ...grpc.CallOption) (PrimaryService_CopyStoreClient, error)
	MasterEpochFor(ctx context.Context, in *MasterEpochForRequest, opts ...grpc.CallOption) (*MasterEpochForResponse, error)
}

type primaryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPrimaryServiceClient returns a client bound to cc. Callers are
// expected to have dialed cc with grpc.WithDefaultCallOptions(grpc.ForceCodec(...))
// or per-call grpc.ForceCodec, matching the server's ForceServerCodec.
func NewPrimaryServiceClient(cc grpc.ClientConnInterface) PrimaryServiceClient {
	return &primaryServiceClient{cc}
}

func (c *primaryServiceClient) AllocateIDs(ctx context.Context, in *AllocateIDsRequest, opts ...grpc.CallOption) (*AllocateIDsResponse, error) {
	out := new(AllocateIDsResponse)
	if err := c.cc.Invoke(ctx, ServiceName+"/AllocateIDs", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryServiceClient) AcquireLocks(ctx context.Context, in *AcquireLocksRequest, opts ...grpc.CallOption) (*AcquireLocksResponse, error) {
	out := new(AcquireLocksResponse)
	if err := c.cc.Invoke(ctx, ServiceName+"/AcquireLocks", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryServiceClient) ReleaseLocks(ctx context.Context, in *ReleaseLocksRequest, opts ...grpc.CallOption) (*ReleaseLocksResponse, error) {
	out := new(ReleaseLocksResponse)
	if err := c.cc.Invoke(ctx, ServiceName+"/ReleaseLocks", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryServiceClient) Commit(ctx context.Context, in *CommitRequest, opts ...grpc.CallOption) (*CommitResponse, error) {
	out := new(CommitResponse)
	if err := c.cc.Invoke(ctx, ServiceName+"/Commit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryServiceClient) MasterEpochFor(ctx context.Context, in *MasterEpochForRequest, opts ...grpc.CallOption) (*MasterEpochForResponse, error) {
	out := new(MasterEpochForResponse)
	if err := c.cc.Invoke(ctx, ServiceName+"/MasterEpochFor", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// PrimaryService_PullUpdatesClient is the client-side stream handle
// for PullUpdates.
type PrimaryService_PullUpdatesClient interface {
	Recv() (*PullUpdatesResponse, error)
	grpc.ClientStream
}

type primaryServicePullUpdatesClient struct {
	grpc.ClientStream
}

func (x *primaryServicePullUpdatesClient) Recv() (*PullUpdatesResponse, error) {
	m := new(PullUpdatesResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *primaryServiceClient) PullUpdates(ctx context.Context, in *PullUpdatesRequest, opts ...grpc.CallOption) (PrimaryService_PullUpdatesClient, error) {
	stream, err := c.cc.NewStream(ctx, &PrimaryServiceServiceDesc.Streams[0], ServiceName+"/PullUpdates", opts...)
	if err != nil {
		return nil, err
	}
	x := &primaryServicePullUpdatesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// PrimaryService_CopyStoreClient is the client-side stream handle for
// CopyStore.
type PrimaryService_CopyStoreClient interface {
	Recv() (*CopyStoreResponse, error)
	grpc.ClientStream
}

type primaryServiceCopyStoreClient struct {
	grpc.ClientStream
}

func (x *primaryServiceCopyStoreClient) Recv() (*CopyStoreResponse, error) {
	m := new(CopyStoreResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *primaryServiceClient) CopyStore(ctx context.Context, in *CopyStoreRequest, opts ...grpc.CallOption) (PrimaryService_CopyStoreClient, error) {
	stream, err := c.cc.NewStream(ctx, &PrimaryServiceServiceDesc.Streams[1], ServiceName+"/CopyStore", opts...)
	if err != nil {
		return nil, err
	}
	x := &primaryServiceCopyStoreClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
