package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/sample"
)

// Save 保存当前模型与产出它的指标，返回制品 key。
// 写入成功后才登记到索引，失败时不留下索引记录。
func (e *Engine) Save(ctx context.Context, alias string, epoch int, hitRatio, ndcg float64) (string, error) {
	if e.model == nil {
		return "", core.ErrModelNotSet
	}
	if e.store == nil {
		return "", core.ConfigurationError(core.ModuleEngine, "engine: no checkpoint store configured")
	}
	c := checkpoint.New(e.model, e.runID, alias, epoch, checkpoint.Metrics{
		Loss:     e.lastLoss,
		HitRatio: hitRatio,
		NDCG:     ndcg,
	})
	c.IDMap = e.idMap

	key, err := checkpoint.Save(ctx, e.store, c)
	if err != nil {
		return "", err
	}
	if e.registry != nil {
		if err := e.registry.Record(checkpoint.EntryOf(c, key)); err != nil {
			return key, fmt.Errorf("record checkpoint %s: %w", key, err)
		}
	}
	e.setState(StateCheckpointed)
	return key, nil
}

// FitConfig 训练循环参数。
type FitConfig struct {
	Alias       string
	NumEpoch    int
	BatchSize   int
	NumNegative int
}

func (c FitConfig) withDefaults() FitConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = core.DefaultBatchSize
	}
	if c.NumNegative < 0 {
		c.NumNegative = core.DefaultNumNegatives
	}
	if c.Alias == "" {
		c.Alias = "model"
	}
	return c
}

// EpochReport 是一轮训练的结果。
type EpochReport struct {
	Alias      string        `json:"alias"`
	Epoch      int           `json:"epoch"`
	Loss       float64       `json:"loss"`
	HitRatio   float64       `json:"hit_ratio"`
	NDCG       float64       `json:"ndcg"`
	Checkpoint string        `json:"checkpoint,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// FitResult 是完整训练循环的结果。
type FitResult struct {
	Epochs []EpochReport
	Best   EpochReport
}

// Fit 执行 NumEpoch 轮 训练 → 评估 → 保存。
//
// 每轮重新抽取训练负样本，评估负样本在整个训练期间固定。
// 未配置 checkpoint 存储时跳过保存。最佳轮次按 HR 优先、NDCG 次之、较早轮次优先选取。
func (e *Engine) Fit(ctx context.Context, gen *sample.Generator, cfg FitConfig) (*FitResult, error) {
	if e.model == nil {
		return nil, core.ErrModelNotSet
	}
	if cfg.NumEpoch <= 0 {
		return nil, core.ConfigurationErrorf(core.ModuleEngine, "engine: num epoch must be positive, got %d", cfg.NumEpoch)
	}
	cfg = cfg.withDefaults()
	evalData := gen.EvaluateData()

	res := &FitResult{Best: EpochReport{Epoch: -1}}
	for epoch := 0; epoch < cfg.NumEpoch; epoch++ {
		started := time.Now()
		loader, err := gen.InstanceTrainLoader(cfg.NumNegative, cfg.BatchSize)
		if err != nil {
			return res, err
		}
		loss, err := e.TrainAnEpoch(ctx, loader, epoch)
		if err != nil {
			return res, err
		}
		metrics, err := e.Evaluate(ctx, evalData, epoch)
		if err != nil {
			return res, fmt.Errorf("evaluate epoch %d: %w", epoch, err)
		}

		report := EpochReport{
			Alias:    cfg.Alias,
			Epoch:    epoch,
			Loss:     loss,
			HitRatio: metrics.HitRatio,
			NDCG:     metrics.NDCG,
		}
		if e.store != nil {
			key, err := e.Save(ctx, cfg.Alias, epoch, metrics.HitRatio, metrics.NDCG)
			if err != nil {
				return res, err
			}
			report.Checkpoint = key
		}
		report.Duration = time.Since(started)

		e.reporter.ReportEpoch(ctx, report)
		res.Epochs = append(res.Epochs, report)
		if res.Best.Epoch < 0 || betterEpoch(report, res.Best) {
			res.Best = report
		}
	}
	e.setState(StateIdle)
	return res, nil
}

func betterEpoch(a, b EpochReport) bool {
	if a.HitRatio != b.HitRatio {
		return a.HitRatio > b.HitRatio
	}
	return a.NDCG > b.NDCG
}
