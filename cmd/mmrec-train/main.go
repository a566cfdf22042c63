// Command mmrec-train 从关系库（或合成数据）抽取交互日志，训练 GMF / MLP / NeuMF / 多模态 NeuMF，
// 每轮评估后保存制品，结束时把最佳轮次提升为 latest.model 供在线服务重载。
//
//	mmrec-train -config train.yaml
//	mmrec-train -simulate -users 500 -items 2000 -records 20000
//	MMREC_MODEL__ARCH=gmf MMREC_TRAIN__ALIAS=gmf mmrec-train
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/config"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/database"
	"github.com/rushteam/mmrec/engine"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/nn"
	"github.com/rushteam/mmrec/sample"
)

type flags struct {
	configPath string
	simulate   bool
	users      int
	items      int
	records    int
	noPromote  bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "YAML config file (defaults to $MMREC_CONFIG)")
	flag.BoolVar(&f.simulate, "simulate", false, "train on a synthetic interaction log instead of the database")
	flag.IntVar(&f.users, "users", 200, "synthetic users (with -simulate)")
	flag.IntVar(&f.items, "items", 500, "synthetic posts (with -simulate)")
	flag.IntVar(&f.records, "records", 5000, "synthetic interactions (with -simulate)")
	flag.BoolVar(&f.noPromote, "no-promote", false, "do not promote the best epoch to latest.model")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		log := logging.Logger()
		log.Error().Err(err).Msg("training failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging)
	log := logging.Component("train")

	rng := rand.New(rand.NewSource(cfg.Train.Seed))
	data, err := loadData(ctx, cfg, f, rng)
	if err != nil {
		return err
	}

	genOpts := []sample.Option{sample.WithRand(rng)}
	if data.IDMap != nil {
		// 交互被剔除的用户与帖子仍保留下标，模型按完整映射分配 embedding
		genOpts = append(genOpts, sample.WithBounds(len(data.IDMap.Users), len(data.IDMap.Items)))
	}
	gen, err := sample.NewGenerator(data.Rows, genOpts...)
	if err != nil {
		return err
	}
	mcfg := cfg.Model
	mcfg.NumUsers = gen.NumUsers()
	mcfg.NumItems = gen.NumItems()
	log.Info().
		Str("arch", string(mcfg.Arch)).
		Int("users", mcfg.NumUsers).
		Int("items", mcfg.NumItems).
		Int("train", len(gen.Train())).
		Int("test", len(gen.Test())).
		Msg("dataset ready")

	blobs, err := cfg.CheckpointStore(ctx)
	if err != nil {
		return err
	}
	m, err := initModel(ctx, cfg, mcfg, blobs, rng)
	if err != nil {
		return err
	}
	opt, err := nn.NewOptimizer(cfg.Train.OptimizerConfig())
	if err != nil {
		return err
	}

	registry, err := checkpoint.OpenRegistry(cfg.Checkpoint.RegistryDir)
	if err != nil {
		return err
	}
	defer registry.Close()

	opts := []engine.Option{
		engine.WithOptimizer(opt),
		engine.WithIDMap(data.IDMap),
		engine.WithCheckpointStore(blobs),
		engine.WithRegistry(registry),
		engine.WithReporter(engine.Reporters{engine.NewLogReporter(log), engine.PrometheusReporter{}}),
		engine.WithLogger(log),
	}
	if mcfg.Multimodal() {
		opts = append(opts, engine.WithFeatures(data.Features))
	}
	if cfg.Train.BatchedEval {
		opts = append(opts, engine.WithBatchedEval(cfg.Train.BatchSize, cfg.Train.EvalWorkers))
	}
	eng := engine.New(m, opts...)

	res, err := eng.Fit(ctx, gen, engine.FitConfig{
		Alias:       cfg.Train.Alias,
		NumEpoch:    cfg.Train.NumEpoch,
		BatchSize:   cfg.Train.BatchSize,
		NumNegative: cfg.Train.NumNegative,
	})
	if err != nil {
		return err
	}
	best := res.Best
	log.Info().
		Str("run_id", eng.RunID()).
		Int("epoch", best.Epoch).
		Float64("hit_ratio", best.HitRatio).
		Float64("ndcg", best.NDCG).
		Str("checkpoint", best.Checkpoint).
		Msg("training finished")
	if recorded, err := registry.Best(cfg.Train.Alias); err == nil && recorded.Key != best.Checkpoint {
		log.Info().
			Str("key", recorded.Key).
			Str("run_id", recorded.RunID).
			Float64("hit_ratio", recorded.Metrics.HitRatio).
			Msg("registry holds a better earlier checkpoint")
	}

	if f.noPromote || best.Checkpoint == "" {
		return nil
	}
	if err := checkpoint.Promote(ctx, blobs, best.Checkpoint); err != nil {
		return err
	}
	log.Info().Str("key", best.Checkpoint).Msg("promoted to " + checkpoint.LatestKey)
	return nil
}

func loadData(ctx context.Context, cfg *config.Config, f flags, rng *rand.Rand) (*database.Dataset, error) {
	if f.simulate {
		rows, features := sample.Simulate(rng, sample.SimulateConfig{
			NumUsers:   f.users,
			NumItems:   f.items,
			NumRecords: f.records,
			ImageDim:   cfg.Model.ImageFeatureDim,
			TextDim:    cfg.Model.TextFeatureDim,
		})
		return &database.Dataset{Rows: rows, Features: features}, nil
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repo := database.NewInteractionRepository(db)
	if cfg.Model.Multimodal() {
		repo.ImageDim = cfg.Model.ImageFeatureDim
		repo.TextDim = cfg.Model.TextFeatureDim
	}
	return repo.Load(ctx)
}

// initModel 按配置随机初始化、用预训练分支热启动，或从已有制品继续训练。
func initModel(ctx context.Context, cfg *config.Config, mcfg model.Config, blobs core.BlobStore, rng *rand.Rand) (model.Model, error) {
	switch {
	case cfg.Train.Resume != "":
		ckpt, err := checkpoint.Load(ctx, blobs, cfg.Train.Resume)
		if err != nil {
			return nil, err
		}
		if ckpt.Config.Arch != mcfg.Arch || ckpt.Config.NumUsers != mcfg.NumUsers || ckpt.Config.NumItems != mcfg.NumItems {
			return nil, core.ConfigurationErrorf(core.ModuleModel,
				"train: resume checkpoint %s is %s %dx%d, dataset needs %s %dx%d",
				cfg.Train.Resume, ckpt.Config.Arch, ckpt.Config.NumUsers, ckpt.Config.NumItems,
				mcfg.Arch, mcfg.NumUsers, mcfg.NumItems)
		}
		return ckpt.Restore()

	case cfg.Train.Pretrain:
		gmf, err := restoreAs[*model.GMF](ctx, blobs, cfg.Train.PretrainMF)
		if err != nil {
			return nil, err
		}
		mlp, err := restoreAs[*model.MLP](ctx, blobs, cfg.Train.PretrainMLP)
		if err != nil {
			return nil, err
		}
		return model.WarmStart(mcfg, mlp, gmf, rng)
	}
	return model.New(mcfg, rng)
}

func restoreAs[T model.Model](ctx context.Context, blobs core.BlobStore, key string) (T, error) {
	var zero T
	ckpt, err := checkpoint.Load(ctx, blobs, key)
	if err != nil {
		return zero, err
	}
	m, err := ckpt.Restore()
	if err != nil {
		return zero, err
	}
	typed, ok := m.(T)
	if !ok {
		return zero, core.ConfigurationErrorf(core.ModuleModel, "train: checkpoint %s holds a %s model", key, ckpt.Config.Arch)
	}
	return typed, nil
}
