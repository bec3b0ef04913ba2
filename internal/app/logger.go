package app

import (
	"fmt"

	"github.com/prudhvinik1/edgepresence/internal/config"
	"go.uber.org/zap"
)

// NewLogger builds a production logger, or a development one when
// ENVIRONMENT=development, at LOG_LEVEL.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
