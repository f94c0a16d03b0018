package social

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
	"github.com/louisbranch/bliss/internal/platform/requestctx"
	"github.com/louisbranch/bliss/internal/services/social/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "bearer "
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (session.Session, error)
}

// UnaryAuthInterceptor authenticates calls to SocialGraphService. Other
// services on the same server, such as health, pass through.
func UnaryAuthInterceptor(verifier TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !ownsMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, verifier)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor.
func StreamAuthInterceptor(verifier TokenVerifier) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !ownsMethod(info.FullMethod) {
			return handler(srv, stream)
		}
		ctx, err := authenticate(stream.Context(), verifier)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: stream, ctx: ctx})
	}
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }

func ownsMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/"+ServiceName+"/")
}

func authenticate(ctx context.Context, verifier TokenVerifier) (context.Context, error) {
	if verifier == nil {
		return nil, status.Error(codes.Internal, "session verifier is not configured")
	}
	token, err := bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	s, err := verifier.Verify(token)
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return requestctx.WithUserID(ctx, s.UserID), nil
}

func bearerToken(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, value := range md.Get(authorizationHeader) {
		value = strings.TrimSpace(value)
		if len(value) > len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
			if token := strings.TrimSpace(value[len(bearerPrefix):]); token != "" {
				return token, nil
			}
		}
	}
	return "", status.Error(codes.Unauthenticated, "bearer token is required")
}
