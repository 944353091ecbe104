package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/objectfs/objectcache/internal/config"
	"github.com/objectfs/objectcache/pkg/types"
	"github.com/objectfs/objectcache/pkg/utils"
)

// Open creates the store backend selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (types.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil

	case config.BackendPebble:
		threshold, err := parseThreshold(cfg.Pebble.CompressionThreshold)
		if err != nil {
			return nil, err
		}
		return NewPebbleStore(PebbleOptions{
			Directory:            cfg.Pebble.Directory,
			Sync:                 cfg.Pebble.Sync,
			Compression:          cfg.Pebble.Compression,
			CompressionThreshold: threshold,
		}, logger)

	case config.BackendS3:
		opts := S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.Credentials.AccessKeyID,
			SecretAccessKey: cfg.S3.Credentials.SecretAccessKey,
			Compression:     cfg.S3.Compression,
		}
		client, err := NewS3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, opts, logger)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func parseThreshold(s string) (int, error) {
	if s == "" {
		return DefaultCompressionThreshold, nil
	}
	n, err := utils.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid compression_threshold: %w", err)
	}
	return int(n), nil
}
