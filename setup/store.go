package setup

import (
	"context"

	"go.uber.org/zap"

	"mender/config"
	"mender/logging"
	"mender/store"
)

// InitializeStore opens the task history database, or returns nil when it
// is disabled or cannot be opened
func InitializeStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) *store.Store {
	if !cfg.Store.Enabled {
		return nil
	}

	dbPath := cfg.ResolvePath(cfg.Store.DBPath)
	s, err := store.Open(dbPath)
	if err != nil {
		logger.Warn(ctx, "failed to open task history, continuing without it", zap.String("path", dbPath), zap.Error(err))
		return nil
	}
	logger.Debug(ctx, "task history opened", zap.String("path", dbPath))
	return s
}
