package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/config"
)

var (
	// ErrTokenExpired 令牌已过期
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken 令牌无效
	ErrInvalidToken = errors.New("invalid token")
)

// Claims JWT载荷。台账只关心操作者身份（created_by_id 的来源），
// 用户注册与角色管理由外部系统负责。
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService 定义令牌签发与校验接口。
// 校验是认证中间件的依赖；签发保留给运维工具和测试使用。
type JWTService interface {
	GenerateToken(userID int64, username string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type jwtService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	logger *zap.Logger
}

// NewJWTService 创建JWT服务实例。
func NewJWTService(cfg *config.Config, logger *zap.Logger) JWTService {
	return &jwtService{
		secret: []byte(cfg.JWT.Secret),
		issuer: cfg.JWT.Issuer,
		ttl:    cfg.JWT.AccessTTL,
		logger: logger,
	}
}

func (s *jwtService) GenerateToken(userID int64, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
