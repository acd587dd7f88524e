package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"speech-tone-service/internal/models"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "speech.tone.v1.ToneService"

	ToneService_Refine_FullMethodName = "/" + ServiceName + "/Refine"
)

// ToneServiceServer is the server API for ToneService.
type ToneServiceServer interface {
	// Refine streams grammar-stage messages in and tone outputs back.
	Refine(ToneService_RefineServer) error
}

type ToneService_RefineServer = grpc.BidiStreamingServer[models.Message, models.Message]

type ToneService_RefineClient = grpc.BidiStreamingClient[models.Message, models.Message]

// RegisterToneServiceServer registers srv on s.
func RegisterToneServiceServer(s grpc.ServiceRegistrar, srv ToneServiceServer) {
	s.RegisterService(&ToneService_ServiceDesc, srv)
}

func _ToneService_Refine_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ToneServiceServer).Refine(&grpc.GenericServerStream[models.Message, models.Message]{ServerStream: stream})
}

// ToneService_ServiceDesc is the grpc.ServiceDesc for ToneService.
var ToneService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ToneServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Refine",
			Handler:       _ToneService_Refine_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// ToneServiceClient is the client API for ToneService.
type ToneServiceClient interface {
	Refine(ctx context.Context, opts ...grpc.CallOption) (ToneService_RefineClient, error)
}

type toneServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewToneServiceClient returns a client that always selects the JSON codec.
func NewToneServiceClient(cc grpc.ClientConnInterface) ToneServiceClient {
	return &toneServiceClient{cc}
}

func (c *toneServiceClient) Refine(ctx context.Context, opts ...grpc.CallOption) (ToneService_RefineClient, error) {
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ToneService_ServiceDesc.Streams[0], ToneService_Refine_FullMethodName, callOpts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[models.Message, models.Message]{ClientStream: stream}, nil
}
