package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// AuthMiddleware JWT认证中间件。
// 验证 Authorization 头中的Bearer令牌，并把操作者ID注入请求上下文，
// 供台账把流水的 created_by_id 归属到调用方。
// 用户与角色管理由签发令牌的外部系统负责。
func AuthMiddleware(jwtService service.JWTService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromContext(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("missing authorization header", zap.String("request_id", reqID))
				resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authorization header required", reqID, "")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				logger.Warn("invalid authorization header format", zap.String("request_id", reqID))
				resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "invalid authorization header format", reqID, "")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				logger.Warn("token validation failed",
					zap.String("request_id", reqID),
					zap.Error(err),
				)
				message := "invalid token"
				if errors.Is(err, service.ErrTokenExpired) {
					message = "token expired"
				}
				resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, message, reqID, "")
				return
			}

			next.ServeHTTP(w, r.WithContext(withActorID(r.Context(), claims.UserID)))
		})
	}
}
