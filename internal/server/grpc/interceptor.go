package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/rpc"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

// TenantIDKey holds the tenant of the verified access token.
const TenantIDKey ctxKey = "tenantID"

func tenantFromContext(ctx context.Context) (string, error) {
	tenant, ok := ctx.Value(TenantIDKey).(string)
	if !ok || tenant == "" {
		return "", status.Error(codes.Unauthenticated, "missing tenant")
	}
	return tenant, nil
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// accessTokenInterceptor verifies the access token on every call but Ping.
// An expired token is reported with the common.ErrTokenExpired message so
// clients know a refresh may help.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod == rpc.FullMethod(rpc.MethodPing) {
		return handler(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	accessToken := firstValue(md, common.AccessTokenHeaderName)
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	tenantID, err := auth.GetTenantIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		}
		return nil, status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
	}

	if claimed := firstValue(md, common.TenantHeaderName); claimed != "" && claimed != tenantID {
		return nil, status.Error(codes.PermissionDenied, "tenant does not match token")
	}

	return handler(context.WithValue(ctx, TenantIDKey, tenantID), req)
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "rpc",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}
