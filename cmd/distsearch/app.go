package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/distsearch/internal/cluster"
	"github.com/kailas-cloud/distsearch/internal/config"
	"github.com/kailas-cloud/distsearch/internal/db"
	dbRedis "github.com/kailas-cloud/distsearch/internal/db/redis"
	logpkg "github.com/kailas-cloud/distsearch/internal/logger"
	"github.com/kailas-cloud/distsearch/internal/metrics"
	"github.com/kailas-cloud/distsearch/internal/repository/memindex"
	"github.com/kailas-cloud/distsearch/internal/repository/respcache"
	chiTransport "github.com/kailas-cloud/distsearch/internal/transport/chi"
	searchuc "github.com/kailas-cloud/distsearch/internal/usecase/search"
)

// storeReadyTimeout bounds the wait for the cache store at startup.
const storeReadyTimeout = 10 * time.Second

// app is the composition root shared by serve and query.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	cluster *cluster.Cluster
	store   db.Store
	search  chiTransport.Selecter
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var file *logpkg.FileOutput
	if cfg.Logging.File != "" {
		file = &logpkg.FileOutput{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	logger, err := logpkg.NewLogger(envFlag, cfg.Logging.Level, file)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// loadShards reads every shard's documents in parallel, keeping configured order.
func loadShards(cfg config.Config, logger *zap.Logger) ([]cluster.Shard, error) {
	shards := make([]cluster.Shard, len(cfg.Shards))
	var g errgroup.Group
	for i, sc := range cfg.Shards {
		g.Go(func() error {
			ix := memindex.New(cfg.Coordinator.UniqueKey)
			if sc.Docs != "" {
				loaded, err := memindex.LoadFile(sc.Docs, cfg.Coordinator.UniqueKey)
				if err != nil {
					return fmt.Errorf("shard %s: %w", sc.Name, err)
				}
				ix = loaded
			}
			logger.Info("Shard loaded",
				zap.String("shard", sc.Name),
				zap.String("docs", sc.Docs),
				zap.Uint64("num_docs", ix.NumDocs()),
			)
			shards[i] = cluster.Shard{Name: sc.Name, Core: ix}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // shard name already attached
	}
	return shards, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.RegisterSearchMetrics()

	shards, err := loadShards(cfg, logger)
	if err != nil {
		return nil, err
	}

	c, err := cluster.New(shards, cluster.Options{
		Components:  cfg.Coordinator.Components,
		UniqueKey:   cfg.Coordinator.UniqueKey,
		DefaultRows: cfg.Coordinator.DefaultRows,
		Handler: searchuc.Options{
			MaxParallelShards: cfg.Coordinator.MaxParallelShards,
			ShardTimeout:      time.Duration(cfg.Coordinator.ShardTimeoutMS) * time.Millisecond,
			Tolerant:          cfg.Coordinator.Tolerant,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build cluster: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, cluster: c}
	svc := searchuc.New(c.Coordinator)
	var sel chiTransport.Selecter = svc

	if cfg.Cache.Enabled {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create cache store: %w", err)
		}
		if err := store.WaitForReady(ctx, storeReadyTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("cache store not ready: %w", err)
		}
		logger.Info("Connected to cache store", zap.Strings("addrs", cfg.Cache.Addrs))
		a.store = store
		sel = respcache.New(svc, store,
			time.Duration(cfg.Cache.TTLSec)*time.Second, cfg.Cache.KeyPrefix,
			metrics.ResponseCacheTotal, logger)
	}
	a.search = sel
	return a, nil
}

func (a *app) shardNames() []string {
	names := make([]string, len(a.cfg.Shards))
	for i, s := range a.cfg.Shards {
		names[i] = s.Name
	}
	return names
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}
