package config

import (
	"context"
	"fmt"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/storage/badger"
	"github.com/marmos91/agentfs/pkg/storage/hostfs"
	"github.com/marmos91/agentfs/pkg/storage/memory"
	"github.com/marmos91/agentfs/pkg/storage/tiered"
	"github.com/marmos91/agentfs/pkg/store/block"
	blockfs "github.com/marmos91/agentfs/pkg/store/block/fs"
	blockmemory "github.com/marmos91/agentfs/pkg/store/block/memory"
	blocks3 "github.com/marmos91/agentfs/pkg/store/block/s3"
)

// CreateBackend creates the content backend selected by cfg.Type.
func CreateBackend(ctx context.Context, cfg StorageConfig) (storage.Backend, error) {
	logger.Debug("Creating storage backend", logger.StoreType(cfg.Type))

	switch cfg.Type {
	case "memory", "":
		return memory.New(memory.Config{MaxSize: cfg.Memory.MaxSize.Uint64()}), nil
	case "hostfs":
		return createHostFSBackend(cfg.HostFS)
	case "badger":
		return createBadgerBackend(cfg.Badger)
	case "tiered":
		return createTieredBackend(ctx, cfg.Tiered)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

func createHostFSBackend(cfg HostFSStorageConfig) (storage.Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("hostfs backend requires path to be set")
	}
	b, err := hostfs.New(hostfs.Config{BasePath: cfg.Path, Reflink: cfg.Reflink})
	if err != nil {
		return nil, fmt.Errorf("failed to create hostfs backend: %w", err)
	}
	return b, nil
}

func createBadgerBackend(cfg BadgerStorageConfig) (storage.Backend, error) {
	b, err := badger.Open(badger.Config{
		Path:       cfg.Path,
		InMemory:   cfg.InMemory,
		ChunkSize:  uint32(cfg.ChunkSize),
		SyncWrites: cfg.SyncWrites,
		Metrics:    metrics.NewBadgerMetrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger backend: %w", err)
	}
	return b, nil
}

func createTieredBackend(ctx context.Context, cfg TieredStorageConfig) (storage.Backend, error) {
	codec, err := tiered.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	spill, err := CreateBlockStore(ctx, cfg.Spill)
	if err != nil {
		return nil, fmt.Errorf("failed to create spill store: %w", err)
	}

	b, err := tiered.New(tiered.Config{
		HotSize: cfg.HotSize.Uint64(),
		Codec:   codec,
		Store:   spill,
		Metrics: metrics.NewTierMetrics(),
	})
	if err != nil {
		_ = spill.Close()
		return nil, fmt.Errorf("failed to create tiered backend: %w", err)
	}
	return b, nil
}

// CreateBlockStore creates the object store that receives spilled streams.
func CreateBlockStore(ctx context.Context, cfg BlockStoreConfig) (block.Store, error) {
	switch cfg.Type {
	case "memory", "":
		return blockmemory.New(), nil
	case "fs":
		if cfg.FS.Path == "" {
			return nil, fmt.Errorf("fs block store requires path to be set")
		}
		return blockfs.New(blockfs.Config{BasePath: cfg.FS.Path})
	case "s3":
		return blocks3.NewFromConfig(ctx, blocks3.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			KeyPrefix:      cfg.S3.Prefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown block store type: %q", cfg.Type)
	}
}
