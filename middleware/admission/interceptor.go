package admission

import (
	"context"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

// UnaryServerInterceptor aplica o mesmo limiter a chamadas gRPC unárias.
// A negação vira status ResourceExhausted; os metadados de decisão não são
// propagados (gRPC não tem o trio de headers do HTTP).
func (l *Limiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		caller := domain.Caller{
			Identity:   IdentityFromContext(ctx),
			APIKey:     apiKeyFromMetadata(ctx, l.opts.KeyHeader),
			SourceAddr: peerAddr(ctx),
			Method:     "GRPC",
			Path:       info.FullMethod,
		}

		res := l.svc.Decide(ctx, caller)
		l.recordRPC(ctx, info.FullMethod, res)

		if res.Denial != nil {
			if l.svc.Config().SkipFailed && res.Decision.Counted {
				l.svc.Decrement(ctx, res.Key)
			}
			return nil, status.Error(codes.ResourceExhausted, res.Denial.Error())
		}

		if !res.Skipped && !res.FailedOpen {
			ctx = ContextWithDecision(ctx, res.Decision)
		}
		return handler(ctx, req)
	}
}

func (l *Limiter) recordRPC(ctx context.Context, fullMethod string, res application.Result) {
	if l.stats == nil || res.Skipped {
		return
	}
	_ = l.stats.Record(ctx, domain.StatsEvent{
		Key:      res.Key,
		Strategy: l.svc.Config().Strategy,
		Allowed:  res.Denial == nil,
		Method:   "GRPC",
		Path:     fullMethod,
		At:       time.Now(),
	})
}

func apiKeyFromMetadata(ctx context.Context, header string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(header); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
