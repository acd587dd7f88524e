// Package grpcapi exposes the tone orchestrator as a bidirectional gRPC stream.
package grpcapi

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
	"speech-tone-service/internal/schema"
)

// Handler turns one input message into at most one output.
type Handler interface {
	Handle(ctx context.Context, msg models.Message) (models.Message, bool)
}

// Server implements ToneServiceServer.
type Server struct {
	handler   Handler
	validator *schema.Validator
	metrics   *metrics.Metrics
}

// Register creates the service and registers it on g.
func Register(g *grpc.Server, handler Handler) *Server {
	s := NewServer(handler)
	RegisterToneServiceServer(g, s)
	return s
}

// NewServer creates the service without registering it.
func NewServer(handler Handler) *Server {
	return &Server{
		handler:   handler,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}
}

// Refine reads messages until the client half-closes, answering each
// FRAGMENT with a PREVIEW and each SESSION_END with the FINAL. Invalid
// messages are skipped and the stream stays open.
func (s *Server) Refine(stream ToneService_RefineServer) error {
	ctx := stream.Context()

	addr := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		addr = p.Addr.String()
	}
	logger := logging.WithStream("grpc", addr)
	logger.Info().Msg("Refine stream opened")

	var received, sent int
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			logger.Info().
				Int("received", received).
				Int("sent", sent).
				Msg("Refine stream closed by client")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return status.FromContextError(ctx.Err()).Err()
			}
			logger.Error().Err(err).Msg("Error receiving message")
			return err
		}
		received++

		if err := s.validator.Validate(*msg); err != nil {
			reason := schema.Reason(err)
			s.metrics.RecordMessageRejected("grpc", reason)
			logger.Warn().
				Err(err).
				Str("utteranceId", msg.ID).
				Str("reason", reason).
				Msg("Skipping invalid message")
			continue
		}

		out, ok := s.handler.Handle(ctx, *msg)
		if !ok {
			continue
		}
		if err := stream.Send(&out); err != nil {
			logger.Error().Err(err).Str("utteranceId", out.ID).Msg("Error sending output")
			return status.Errorf(codes.Unavailable, "send %s: %v", out.Event, err)
		}
		sent++
	}
}
