package config

import (
	"context"
	"fmt"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/vfs"
	"github.com/marmos91/agentfs/pkg/vfs/faults"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// NewCore builds the storage backend and a filesystem core from cfg.
//
// Metrics are recorded only when metrics.InitRegistry was called before
// NewCore. The returned core owns the backend; Core.Shutdown closes it.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	core, err := config.NewCore(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer core.Shutdown(ctx)
func NewCore(ctx context.Context, cfg *Config) (*vfs.Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	backend, err := CreateBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	opts, err := CoreOptions(cfg, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	core, err := vfs.New(opts)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create core: %w", err)
	}
	return core, nil
}

// CoreOptions translates the core, faults and metrics sections into
// vfs.Options around an existing backend.
func CoreOptions(cfg *Config, backend storage.Backend) (vfs.Options, error) {
	cs, ok := graph.ParseCaseSensitivity(cfg.Core.CaseSensitivity)
	if !ok {
		return vfs.Options{}, fmt.Errorf("invalid core.case_sensitivity %q", cfg.Core.CaseSensitivity)
	}
	mode, err := ParseMode(cfg.Core.Root.Mode)
	if err != nil {
		return vfs.Options{}, fmt.Errorf("core.root.mode: %w", err)
	}
	injector, err := BuildFaults(cfg.Faults)
	if err != nil {
		return vfs.Options{}, err
	}

	return vfs.Options{
		Backend:               backend,
		CaseSensitivity:       cs,
		TrackEvents:           cfg.Core.TrackEvents,
		RootBypassPermissions: cfg.Core.RootBypassPermissions,
		CacheTTL: vfs.CacheTTL{
			Attr:     cfg.Core.Cache.AttrTTL,
			Entry:    cfg.Core.Cache.EntryTTL,
			Negative: cfg.Core.Cache.NegativeTTL,
		},
		DefaultCredentials: cfg.Core.DefaultCredentials.Credentials(),
		Root: vfs.RootOwner{
			UID:  cfg.Core.Root.UID,
			GID:  cfg.Core.Root.GID,
			Mode: mode,
		},
		Faults:  injector,
		Metrics: metrics.NewCoreMetrics(),
	}, nil
}

// BuildFaults returns the injector for cfg, or nil when injection is
// disabled.
func BuildFaults(cfg FaultsConfig) (*faults.Injector, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rules := make([]faults.Rule, 0, len(cfg.Rules))
	for i, rc := range cfg.Rules {
		r, err := faults.NewRule(rc.Op, rc.Error, rc.After, rc.Max)
		if err != nil {
			return nil, fmt.Errorf("faults.rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	logger.Warn("Fault injection enabled", logger.KeyCount, len(rules))
	return faults.New(rules...), nil
}
