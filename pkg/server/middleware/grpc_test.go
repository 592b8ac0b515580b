package middleware

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/jacktea/sumgate/pkg/metrics"
)

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/drtest.DataValidator/ValidateData"}

func okHandler(ctx context.Context, req any) (any, error) { return "ok", nil }

func withPeer(host string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP(host), Port: 40000},
	})
}

func TestUnaryFiltersNil(t *testing.T) {
	got := Unary(nil, UnaryObserve(logr.Discard()), UnaryRateLimit(RateLimitOptions{}))
	if len(got) != 1 {
		t.Fatalf("expected 1 interceptor, got %d", len(got))
	}
}

func TestUnaryRateLimit(t *testing.T) {
	current := time.Unix(0, 0)
	ic := UnaryRateLimit(RateLimitOptions{Requests: 2, Window: time.Second, Now: func() time.Time { return current }})

	for i := 0; i < 2; i++ {
		if _, err := ic(context.Background(), nil, testInfo, okHandler); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	_, err := ic(context.Background(), nil, testInfo, okHandler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	current = current.Add(500 * time.Millisecond)
	if _, err := ic(context.Background(), nil, testInfo, okHandler); err != nil {
		t.Fatalf("expected refill after half a window, got %v", err)
	}
}

func TestPeerRateLimit(t *testing.T) {
	current := time.Unix(0, 0)
	limiter := NewPeerLimiter(PeerRateLimitOptions{
		RateLimitOptions: RateLimitOptions{Requests: 1, Window: time.Minute, Now: func() time.Time { return current }},
		MaxPeers:         16,
	})
	defer limiter.Close()
	ic := limiter.Interceptor()

	if _, err := ic(withPeer("10.0.0.1"), nil, testInfo, okHandler); err != nil {
		t.Fatalf("first call from peer A: %v", err)
	}
	if _, err := ic(withPeer("10.0.0.1"), nil, testInfo, okHandler); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected peer A to be limited, got %v", err)
	}
	if _, err := ic(withPeer("10.0.0.2"), nil, testInfo, okHandler); err != nil {
		t.Fatalf("peer B must not share A's bucket: %v", err)
	}
}

func TestPeerRateLimitReportsBuckets(t *testing.T) {
	limiter := NewPeerLimiter(PeerRateLimitOptions{
		RateLimitOptions: RateLimitOptions{Requests: 5, Window: time.Minute},
		MaxPeers:         2,
	})
	defer limiter.Close()

	for _, host := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		limiter.Allow(host)
	}
	if got := testutil.ToFloat64(metrics.RateLimitPeers.WithLabelValues("tracked")); got != 2 {
		t.Fatalf("expected 2 tracked peers, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RateLimitPeers.WithLabelValues("evicted")); got != 1 {
		t.Fatalf("expected 1 evicted peer, got %v", got)
	}
}

func TestPeerRateLimitDisabled(t *testing.T) {
	var limiter *PeerLimiter = NewPeerLimiter(PeerRateLimitOptions{})
	if limiter != nil {
		t.Fatal("expected nil limiter")
	}
	if limiter.Interceptor() != nil {
		t.Fatal("expected nil interceptor from nil limiter")
	}
	if err := limiter.Close(); err != nil {
		t.Fatalf("close on nil limiter: %v", err)
	}
}

func TestUnaryObservePassesThrough(t *testing.T) {
	ic := UnaryObserve(logr.Discard())
	resp, err := ic(withPeer("127.0.0.1"), nil, testInfo, okHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}

	want := status.Error(codes.Internal, "boom")
	_, err = ic(context.Background(), nil, testInfo, func(ctx context.Context, req any) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}
}
