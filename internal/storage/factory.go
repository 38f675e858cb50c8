package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"specfactory/internal/config"
	"specfactory/internal/types"
)

// FromConfig builds the Storage backend selected by outputMode.
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (types.Storage, error) {
	switch cfg.OutputMode {
	case "local":
		return NewLocalStore(cfg.Workspace)
	case "s3":
		return NewS3Store(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
	case "dual":
		local, err := NewLocalStore(cfg.Workspace)
		if err != nil {
			return nil, err
		}
		remote, err := NewS3Store(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
		if err != nil {
			return nil, err
		}
		onError := func(op, key string, err error) {
			if logger != nil {
				logger.Warn("mirror store operation failed",
					zap.String("op", op), zap.String("key", key), zap.Error(err))
			}
		}
		return NewDualStore(local, remote, onError), nil
	default:
		return nil, fmt.Errorf("unknown outputMode: %s", cfg.OutputMode)
	}
}
