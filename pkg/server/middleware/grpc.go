package middleware

import (
	"context"
	"net"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/jacktea/sumgate/pkg/cache"
	"github.com/jacktea/sumgate/pkg/metrics"
)

// Unary drops nil interceptors so optional ones can be listed inline.
func Unary(interceptors ...grpc.UnaryServerInterceptor) []grpc.UnaryServerInterceptor {
	out := make([]grpc.UnaryServerInterceptor, 0, len(interceptors))
	for _, ic := range interceptors {
		if ic != nil {
			out = append(out, ic)
		}
	}
	return out
}

// UnaryRateLimit rejects calls with ResourceExhausted once the shared bucket
// is empty.
func UnaryRateLimit(opts RateLimitOptions) grpc.UnaryServerInterceptor {
	if !opts.enabled() {
		return nil
	}
	bucket := NewLimiter(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !bucket.Allow() {
			metrics.RateLimited.WithLabelValues("global").Inc()
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// PeerRateLimitOptions configures per-peer buckets.
type PeerRateLimitOptions struct {
	RateLimitOptions
	// MaxPeers bounds the number of tracked peers; least recently seen
	// peers are forgotten first.
	MaxPeers int
	// IdleTTL forgets a peer after this long without calls.
	IdleTTL time.Duration
}

// PeerLimiter holds one token bucket per remote host.
type PeerLimiter struct {
	opts    RateLimitOptions
	buckets *cache.LRU[*Limiter]
}

// NewPeerLimiter returns nil when opts disables limiting.
func NewPeerLimiter(opts PeerRateLimitOptions) *PeerLimiter {
	if !opts.enabled() {
		return nil
	}
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = 10 * opts.Window
	}
	cacheOpts := []cache.Option{}
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Now))
	}
	return &PeerLimiter{
		opts:    opts.RateLimitOptions,
		buckets: cache.New[*Limiter](opts.MaxPeers, ttl, cacheOpts...),
	}
}

// Allow takes a token from key's bucket.
func (p *PeerLimiter) Allow(key string) bool {
	bucket := p.buckets.GetOrCreate(key, func() *Limiter {
		return NewLimiter(p.opts)
	})
	p.observe()
	return bucket.Allow()
}

func (p *PeerLimiter) observe() {
	s := p.buckets.Stats()
	metrics.RateLimitPeers.WithLabelValues("tracked").Set(float64(s.Size))
	metrics.RateLimitPeers.WithLabelValues("evicted").Set(float64(s.Evictions))
	metrics.RateLimitPeers.WithLabelValues("expired").Set(float64(s.Expired))
}

// Close stops the idle sweep.
func (p *PeerLimiter) Close() error {
	if p == nil {
		return nil
	}
	return p.buckets.Close()
}

// Interceptor rejects calls from a peer whose bucket is empty.
func (p *PeerLimiter) Interceptor() grpc.UnaryServerInterceptor {
	if p == nil {
		return nil
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !p.Allow(peerHost(ctx)) {
			metrics.RateLimited.WithLabelValues("peer").Inc()
			return nil, status.Error(codes.ResourceExhausted, "peer rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// UnaryObserve logs each call and counts it by method and status code.
func UnaryObserve(logger logr.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		metrics.RPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()

		kv := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration", time.Since(start),
			"peer", peerHost(ctx),
		}
		switch code {
		case codes.OK, codes.InvalidArgument, codes.ResourceExhausted, codes.Canceled:
			logger.V(1).Info("handled rpc", kv...)
		default:
			logger.Error(err, "rpc failed", kv...)
		}
		return resp, err
	}
}
