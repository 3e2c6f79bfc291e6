package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/config"
)

func createTestJWTService(ttl time.Duration) JWTService {
	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret-key"
	cfg.JWT.Issuer = "stock-ledger-test"
	cfg.JWT.AccessTTL = ttl

	return NewJWTService(cfg, zap.NewNop())
}

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := createTestJWTService(15 * time.Minute)

	token, err := svc.GenerateToken(123, "picker-01")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken returned empty token")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != 123 {
		t.Errorf("UserID = %d, want 123", claims.UserID)
	}
	if claims.Username != "picker-01" {
		t.Errorf("Username = %q, want picker-01", claims.Username)
	}
	if claims.Issuer != "stock-ledger-test" {
		t.Errorf("Issuer = %q, want stock-ledger-test", claims.Issuer)
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := createTestJWTService(-time.Minute)

	token, err := svc.GenerateToken(123, "picker-01")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	_, err = svc.ValidateToken(token)
	if err != ErrTokenExpired {
		t.Errorf("ValidateToken error = %v, want ErrTokenExpired", err)
	}
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := createTestJWTService(15 * time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"wrong secret", func() string {
			other := createTestJWTService(15 * time.Minute)
			o := other.(*jwtService)
			o.secret = []byte("different-secret")
			tk, _ := other.GenerateToken(1, "x")
			return tk
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); err != ErrInvalidToken {
				t.Errorf("ValidateToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
