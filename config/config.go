// Package config 加载训练命令与在线服务的配置，并维护附加策略 Node 的构建注册表。
//
// 配置分三层加载，后者覆盖前者：
//  1. Defaults() 中的默认值
//  2. YAML 配置文件（可选）
//  3. MMREC_ 前缀的环境变量，双下划线表示层级：MMREC_TRAIN__NUM_EPOCH=20 -> train.num_epoch
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/database"
	"github.com/rushteam/mmrec/feature"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/nn"
	"github.com/rushteam/mmrec/store"
)

// EnvPrefix 是环境变量前缀。
const EnvPrefix = "MMREC_"

// ConfigPathEnvVar 可指定配置文件路径。
const ConfigPathEnvVar = "MMREC_CONFIG"

// Config 是完整的应用配置。
type Config struct {
	Train      TrainConfig         `koanf:"train"`
	Model      model.Config        `koanf:"model"`
	Serve      ServeConfig         `koanf:"serve"`
	Database   database.Config     `koanf:"database"`
	Redis      RedisConfig         `koanf:"redis"`
	S3         checkpoint.S3Config `koanf:"s3"`
	Feast      feature.FeastConfig `koanf:"feast"`
	Checkpoint CheckpointConfig    `koanf:"checkpoint"`
	Logging    logging.Config      `koanf:"logging"`
}

// TrainConfig 训练参数。
type TrainConfig struct {
	Alias       string `koanf:"alias"`
	NumEpoch    int    `koanf:"num_epoch"`
	BatchSize   int    `koanf:"batch_size"`
	NumNegative int    `koanf:"num_negative"`

	Optimizer        string  `koanf:"optimizer"`
	AdamLR           float64 `koanf:"adam_lr"`
	SGDLR            float64 `koanf:"sgd_lr"`
	SGDMomentum      float64 `koanf:"sgd_momentum"`
	RMSpropLR        float64 `koanf:"rmsprop_lr"`
	RMSpropAlpha     float64 `koanf:"rmsprop_alpha"`
	RMSpropMomentum  float64 `koanf:"rmsprop_momentum"`
	L2Regularization float64 `koanf:"l2_regularization"`

	// BatchedEval 为 true 时分块并发评估
	BatchedEval bool  `koanf:"batched_eval"`
	EvalWorkers int   `koanf:"eval_workers"`
	Seed        int64 `koanf:"seed"`

	// Pretrain 为 true 时用 PretrainMF / PretrainMLP 两个制品热启动融合模型
	Pretrain    bool   `koanf:"pretrain"`
	PretrainMF  string `koanf:"pretrain_mf"`
	PretrainMLP string `koanf:"pretrain_mlp"`
	// Resume 是继续训练的制品 key，结构必须一致
	Resume string `koanf:"resume"`
}

// OptimizerConfig 转为 nn 的优化器配置。
func (t TrainConfig) OptimizerConfig() nn.OptimizerConfig {
	return nn.OptimizerConfig{
		Name:             t.Optimizer,
		AdamLR:           t.AdamLR,
		SGDLR:            t.SGDLR,
		SGDMomentum:      t.SGDMomentum,
		RMSpropLR:        t.RMSpropLR,
		RMSpropAlpha:     t.RMSpropAlpha,
		RMSpropMomentum:  t.RMSpropMomentum,
		L2Regularization: t.L2Regularization,
	}
}

// ServeConfig 在线服务参数。
type ServeConfig struct {
	Addr                  string  `koanf:"addr"`
	NewUserThreshold      float64 `koanf:"new_user_threshold"`
	ExistingUserThreshold float64 `koanf:"existing_user_threshold"`
	DefaultLimit          int     `koanf:"default_limit"`
	CandidatePool         int     `koanf:"candidate_pool"`
	// ReloadCron 为空时只在 POST /reload 时重新加载模型
	ReloadCron   string `koanf:"reload_cron"`
	PipelineFile string `koanf:"pipeline_file"`
	// EmbeddingSource 为 database / redis / feast，非 database 时以 database 兜底
	EmbeddingSource string `koanf:"embedding_source"`
	CacheSize       int    `koanf:"cache_size"`
}

// RedisConfig 连接参数，Addr 为空时使用进程内存储。
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Options 转为 store 的连接参数。
func (r RedisConfig) Options() store.RedisOptions {
	return store.RedisOptions{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

// CheckpointConfig 模型制品存储。
type CheckpointConfig struct {
	// Backend 为 file 或 s3
	Backend     string `koanf:"backend"`
	Dir         string `koanf:"dir"`
	RegistryDir string `koanf:"registry_dir"`
}

// Defaults 返回默认配置。
func Defaults() *Config {
	return &Config{
		Train: TrainConfig{
			Alias:            "prod",
			NumEpoch:         50,
			BatchSize:        core.DefaultBatchSize,
			NumNegative:      core.DefaultNumNegatives,
			Optimizer:        "adam",
			AdamLR:           1e-3,
			SGDLR:            1e-3,
			SGDMomentum:      0.9,
			RMSpropLR:        1e-3,
			RMSpropAlpha:     0.99,
			RMSpropMomentum:  0,
			L2Regularization: 1e-7,
			EvalWorkers:      4,
			Seed:             42,
		},
		Model: model.DefaultConfig(),
		Serve: ServeConfig{
			Addr:                  ":8000",
			NewUserThreshold:      0,
			ExistingUserThreshold: 0.5,
			DefaultLimit:          20,
			CandidatePool:         1000,
			EmbeddingSource:       "database",
			CacheSize:             100_000,
		},
		Database: database.Config{Driver: "postgres", LogLevel: "warn"},
		S3:       checkpoint.S3Config{Prefix: "models/"},
		Feast:    feature.FeastConfig{Port: 6565, Entity: "post_id"},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Dir:     "models",
		},
		Logging: logging.Config{Level: "info", Format: "json", Timestamp: true},
	}
}

// Load 按 默认值 -> path 指定的 YAML -> 环境变量 的顺序加载配置。
// path 为空时读取 MMREC_CONFIG 指定的文件，都没有则跳过文件层。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey: MMREC_TRAIN__NUM_EPOCH -> train.num_epoch
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == strings.TrimPrefix(ConfigPathEnvVar, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate 校验与模型结构无关的配置项；模型结构在数据加载后由 model.Config.Validate 校验。
func (c *Config) Validate() error {
	switch {
	case c.Train.NumEpoch <= 0:
		return core.ConfigurationErrorf(core.ModuleService, "config: train.num_epoch must be positive, got %d", c.Train.NumEpoch)
	case c.Train.BatchSize <= 0:
		return core.ConfigurationErrorf(core.ModuleService, "config: train.batch_size must be positive, got %d", c.Train.BatchSize)
	case c.Train.NumNegative < 0:
		return core.ConfigurationErrorf(core.ModuleService, "config: train.num_negative must not be negative, got %d", c.Train.NumNegative)
	case c.Train.Pretrain && (c.Train.PretrainMF == "" || c.Train.PretrainMLP == ""):
		return core.ConfigurationError(core.ModuleService, "config: train.pretrain needs pretrain_mf and pretrain_mlp")
	}
	switch c.Train.Optimizer {
	case "adam", "sgd", "rmsprop":
	default:
		return core.ConfigurationErrorf(core.ModuleService, "config: unknown train.optimizer %q", c.Train.Optimizer)
	}
	switch c.Checkpoint.Backend {
	case "file":
		if c.Checkpoint.Dir == "" {
			return core.ConfigurationError(core.ModuleService, "config: checkpoint.dir is required for the file backend")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return core.ConfigurationError(core.ModuleService, "config: s3.bucket is required for the s3 backend")
		}
	default:
		return core.ConfigurationErrorf(core.ModuleService, "config: unknown checkpoint.backend %q", c.Checkpoint.Backend)
	}
	switch c.Serve.EmbeddingSource {
	case "database", "redis", "feast":
	default:
		return core.ConfigurationErrorf(core.ModuleService, "config: unknown serve.embedding_source %q", c.Serve.EmbeddingSource)
	}
	if c.Serve.DefaultLimit < 0 {
		return core.ConfigurationErrorf(core.ModuleService, "config: serve.default_limit must not be negative, got %d", c.Serve.DefaultLimit)
	}
	return nil
}
