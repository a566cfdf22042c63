package config

import (
	"context"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/store"
)

// CheckpointStore 按 checkpoint.backend 打开制品存储。
func (c *Config) CheckpointStore(ctx context.Context) (core.BlobStore, error) {
	switch c.Checkpoint.Backend {
	case "s3":
		s, err := checkpoint.NewS3StoreFromConfig(ctx, c.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		s, err := checkpoint.NewFileStore(c.Checkpoint.Dir)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleCheckpoint, core.ErrorCodeConfiguration, "config: open checkpoint dir", err)
		}
		return s, nil
	}
	return nil, core.ConfigurationErrorf(core.ModuleService, "config: unknown checkpoint.backend %q", c.Checkpoint.Backend)
}

// KVStore 打开策略与 embedding 共用的 KV 存储，redis.addr 为空时使用进程内存储。
func (c *Config) KVStore(ctx context.Context) (core.Store, error) {
	if c.Redis.Addr == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewRedisStore(ctx, c.Redis.Options())
	if err != nil {
		return nil, err
	}
	return s, nil
}
