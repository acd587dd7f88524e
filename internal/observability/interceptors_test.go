package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-tone-service/internal/observability/metrics"
)

func TestStreamServerInterceptor(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	intercept := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/speech.tone.v1.ToneService/Refine"}

	ok := func(any, grpc.ServerStream) error { return nil }
	fail := func(any, grpc.ServerStream) error { return errors.New("boom") }

	if err := intercept(nil, nil, info, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := intercept(nil, nil, info, fail); err == nil {
		t.Fatal("expected handler error to be returned")
	}

	if got := testutil.ToFloat64(m.StreamsTotal); got != 2 {
		t.Errorf("streams total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StreamsActive); got != 0 {
		t.Errorf("streams active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.StreamsFailed); got != 1 {
		t.Errorf("streams failed = %v, want 1", got)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	intercept := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := intercept(context.Background(), "req", info, func(_ context.Context, req any) (any, error) {
		return req.(string) + "-resp", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "req-resp" {
		t.Errorf("resp = %v, want req-resp", resp)
	}
}

type fakeStream struct {
	grpc.ServerStream
	inbox int
}

func (f *fakeStream) RecvMsg(any) error {
	if f.inbox == 0 {
		return errors.New("drained")
	}
	f.inbox--
	return nil
}

func (f *fakeStream) SendMsg(any) error { return nil }

func TestStreamServerInterceptor_CountsAndCancel(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	intercept := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/speech.tone.v1.ToneService/Refine"}

	var wrapped *countingStream
	echo := func(_ any, ss grpc.ServerStream) error {
		wrapped = ss.(*countingStream)
		for ss.RecvMsg(nil) == nil {
			if err := ss.SendMsg(nil); err != nil {
				return err
			}
		}
		return status.Error(codes.Canceled, "client went away")
	}

	if err := intercept(nil, &fakeStream{inbox: 3}, info, echo); status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled error to pass through, got %v", err)
	}
	if got := wrapped.received.Load(); got != 3 {
		t.Errorf("received = %d, want 3", got)
	}
	if got := wrapped.sent.Load(); got != 3 {
		t.Errorf("sent = %d, want 3", got)
	}
	if got := testutil.ToFloat64(m.StreamsFailed); got != 0 {
		t.Errorf("canceled stream counted as failure: %v", got)
	}
}
