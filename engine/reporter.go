package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/mmrec/metrics"
)

// Reporter 接收每轮训练指标，传输方式由实现决定。
type Reporter interface {
	ReportEpoch(ctx context.Context, r EpochReport)
}

// LogReporter 把每轮指标写入结构化日志。
type LogReporter struct {
	logger zerolog.Logger
}

func NewLogReporter(l zerolog.Logger) *LogReporter {
	return &LogReporter{logger: l}
}

func (r *LogReporter) ReportEpoch(_ context.Context, rep EpochReport) {
	r.logger.Info().
		Str("alias", rep.Alias).
		Int("epoch", rep.Epoch).
		Float64("loss", rep.Loss).
		Float64("hit_ratio", rep.HitRatio).
		Float64("ndcg", rep.NDCG).
		Str("checkpoint", rep.Checkpoint).
		Dur("duration", rep.Duration).
		Msg("epoch finished")
}

// PrometheusReporter 把每轮指标写入 Prometheus 采集器。
type PrometheusReporter struct{}

func (PrometheusReporter) ReportEpoch(_ context.Context, rep EpochReport) {
	metrics.TrainLoss.WithLabelValues(rep.Alias).Set(rep.Loss)
	metrics.EvalHitRatio.WithLabelValues(rep.Alias).Set(rep.HitRatio)
	metrics.EvalNDCG.WithLabelValues(rep.Alias).Set(rep.NDCG)
	metrics.TrainEpochs.WithLabelValues(rep.Alias).Inc()
	metrics.EpochDuration.WithLabelValues(rep.Alias).Observe(rep.Duration.Seconds())
}

// Reporters 依次调用多个 Reporter。
type Reporters []Reporter

func (rs Reporters) ReportEpoch(ctx context.Context, rep EpochReport) {
	for _, r := range rs {
		r.ReportEpoch(ctx, rep)
	}
}
