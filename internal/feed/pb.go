// Package feed ingests driver position reports over gRPC and fans them out
// to the shares watching each driver.
package feed

import "google.golang.org/grpc"

// PositionReport is one streamed driver position sample.
type PositionReport struct {
	DriverUuid string
	Lat        float64
	Lng        float64
	Activity   int32
	Ts         int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// PositionFeedServer defines the gRPC contract.
type PositionFeedServer interface {
	StreamPositions(PositionFeed_StreamPositionsServer) error
}

// RegisterPositionFeedServer registers the service implementation.
func RegisterPositionFeedServer(s *grpc.Server, srv PositionFeedServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "feed.PositionFeed",
		HandlerType: (*PositionFeedServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamPositions",
			Handler:       _PositionFeed_StreamPositions_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// PositionFeed_StreamPositionsServer defines the bidi stream interface.
type PositionFeed_StreamPositionsServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*PositionReport, error)
}

func _PositionFeed_StreamPositions_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PositionFeedServer).StreamPositions(&positionFeedStreamServer{ServerStream: stream})
}

type positionFeedStreamServer struct {
	grpc.ServerStream
}

func (s *positionFeedStreamServer) SendAndClose(*Ack) error { return nil }

func (s *positionFeedStreamServer) Recv() (*PositionReport, error) {
	msg := new(PositionReport)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
