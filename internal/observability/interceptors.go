// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
)

// UnaryServerInterceptor returns a gRPC unary interceptor for logging.
// Health checks are the only unary calls the service serves, so they are
// logged at debug level.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor records stream metrics and logs one summary line
// per stream with the number of messages received and sent. A stream the
// client cancelled counts as successful.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()

		cs := &countingStream{ServerStream: ss}
		err := handler(srv, cs)

		duration := time.Since(start)
		code := status.Code(err)
		success := err == nil || code == codes.Canceled
		m.RecordStreamEnd(success, duration.Seconds())

		ev := logger.Info()
		if !success {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Int64("received", cs.received.Load()).
			Int64("sent", cs.sent.Load()).
			Dur("duration", duration).
			Msg("gRPC stream completed")

		return err
	}
}

type countingStream struct {
	grpc.ServerStream
	received atomic.Int64
	sent     atomic.Int64
}

func (s *countingStream) RecvMsg(m any) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.received.Add(1)
	}
	return err
}

func (s *countingStream) SendMsg(m any) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent.Add(1)
	}
	return err
}
