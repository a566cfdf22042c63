// Command mmrec-server 提供个性化时间线的 HTTP 服务。
//
// 启动时从制品存储加载 latest.model，之后按 serve.reload_cron 定时或通过 POST /reload 热更新；
// 候选帖子与 embedding 来自应用后端的关系库，embedding 也可改由 Redis 或 Feast 提供。
//
//	mmrec-server -config serve.yaml
//	MMREC_SERVE__ADDR=:9000 MMREC_DATABASE__DSN=postgres://... mmrec-server
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rushteam/mmrec/config"
	_ "github.com/rushteam/mmrec/config/builders"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/database"
	"github.com/rushteam/mmrec/feature"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/server"
	"github.com/rushteam/mmrec/timeline"
)

const (
	shutdownTimeout = 10 * time.Second
	embeddingTTL    = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $MMREC_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log := logging.Logger()
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging)
	log := logging.Component("main")

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	var candidateOpts []database.CandidateOption
	if cfg.Serve.EmbeddingSource != "database" {
		// 候选不带特征列，embedding 统一经 EnrichNode 从 Redis / Feast 读取，关系库只做兜底
		candidateOpts = append(candidateOpts, database.SkipEmbeddings())
	}
	candidates := database.NewCandidateRepository(db, candidateOpts...)

	kv, err := cfg.KVStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()
	config.SetDependencies(config.Dependencies{Store: kv})

	source, err := embeddingSource(cfg, candidates, kv)
	if err != nil {
		return err
	}
	cached := feature.NewCachedSource(source, cfg.Serve.CacheSize, embeddingTTL)
	defer cached.Close()

	policy, err := config.LoadPolicy(cfg.Serve.PipelineFile)
	if err != nil {
		return err
	}
	ranker := timeline.NewRanker(cfg.Serve.NewUserThreshold, cfg.Serve.ExistingUserThreshold, policy...)
	ranker.CandidatePool = cfg.Serve.CandidatePool
	ranker.Enrich = &feature.EnrichNode{
		Source:   cached,
		ImageDim: cfg.Model.ImageFeatureDim,
		TextDim:  cfg.Model.TextFeatureDim,
	}

	blobs, err := cfg.CheckpointStore(ctx)
	if err != nil {
		return err
	}
	handle := model.NewHandle()
	reloader := server.NewReloader(blobs, handle)
	if _, err := reloader.Reload(ctx); err != nil {
		// 没有模型时仍然启动，/healthz 返回 503 直到第一次重载成功
		log.Warn().Err(err).Msg("initial model load failed")
	}
	if cfg.Serve.ReloadCron != "" {
		if err := reloader.Schedule(cfg.Serve.ReloadCron); err != nil {
			return err
		}
		defer reloader.Stop()
	}

	srv := server.New(handle, ranker, candidates,
		server.WithReloader(reloader),
		server.WithDefaultLimit(cfg.Serve.DefaultLimit),
	)
	httpServer := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Serve.Addr).
			Str("embedding_source", cached.Name()).
			Int("policy_nodes", len(policy)).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// embeddingSource 按 serve.embedding_source 选择 embedding 来源，非 database 时以关系库兜底。
func embeddingSource(cfg *config.Config, db *database.CandidateRepository, kv core.Store) (core.EmbeddingSource, error) {
	switch cfg.Serve.EmbeddingSource {
	case "redis":
		return feature.NewFallbackSource(feature.NewStoreSource(kv, feature.DefaultKeyPrefix), db), nil
	case "feast":
		fs, err := feature.NewFeastSource(cfg.Feast)
		if err != nil {
			return nil, err
		}
		return feature.NewFallbackSource(fs, db), nil
	}
	return db, nil
}
