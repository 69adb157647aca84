package feed

import (
	"io"

	"go.uber.org/zap"
)

// Server implements the PositionFeedServer interface.
type Server struct {
	ingestor *Ingestor
	log      *zap.Logger
}

// NewServer constructs a server.
func NewServer(ingestor *Ingestor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ingestor: ingestor, log: logger}
}

// StreamPositions ingests driver position reports until the client closes
// the stream. A report that fails to apply is logged and skipped so one bad
// sample does not kill the stream.
func (s *Server) StreamPositions(stream PositionFeed_StreamPositionsServer) error {
	for {
		report, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		if report.DriverUuid == "" {
			continue
		}
		if err := s.ingestor.Apply(stream.Context(), report); err != nil {
			s.log.Warn("position apply failed",
				zap.String("driver_uuid", report.DriverUuid), zap.Error(err))
		}
	}
}
