// Package logger 基于zap提供结构化日志器的构造。
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 创建zap日志器。dev环境使用开发配置（彩色console），
// prod环境使用生产配置（JSON、采样）；encoding 可覆盖默认编码。
// 所有日志携带服务名与版本字段。
func New(env, level, encoding, name, version string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	if encoding == "json" || encoding == "console" {
		cfg.Encoding = encoding
		if encoding == "json" {
			cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
	}

	lg, err := cfg.Build(zap.Fields(
		zap.String("service", name),
		zap.String("version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return lg, nil
}
