// Package metrics 定义训练与在线服务的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 训练指标，按 alias 区分不同结构的训练任务
	TrainLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmrec_train_epoch_loss",
			Help: "Total BCE loss of the last finished training epoch",
		},
		[]string{"alias"},
	)

	EvalHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmrec_eval_hit_ratio",
			Help: "Leave-one-out Hit Ratio@K of the last evaluation",
		},
		[]string{"alias"},
	)

	EvalNDCG = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmrec_eval_ndcg",
			Help: "Leave-one-out NDCG@K of the last evaluation",
		},
		[]string{"alias"},
	)

	TrainEpochs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmrec_train_epochs_total",
			Help: "Total number of finished training epochs",
		},
		[]string{"alias"},
	)

	EpochDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmrec_train_epoch_duration_seconds",
			Help:    "Wall time of one train+evaluate+checkpoint cycle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s ~ 34min
		},
		[]string{"alias"},
	)

	// 在线服务指标
	TimelineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmrec_timeline_requests_total",
			Help: "Timeline requests by user branch and outcome",
		},
		[]string{"branch", "outcome"}, // branch: warm/cold; outcome: ok/empty/error
	)

	TimelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmrec_timeline_duration_seconds",
			Help:    "Latency of timeline ranking",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"branch"},
	)

	TimelineCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mmrec_timeline_candidates",
			Help:    "Number of candidates entering the ranking pipeline",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
	)

	ModelReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmrec_model_reloads_total",
			Help: "Model reload attempts by result",
		},
		[]string{"result"}, // success/failure/rejected
	)

	ModelLoadedTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mmrec_model_loaded_timestamp_seconds",
			Help: "Unix time at which the serving model was swapped in",
		},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrec_embedding_cache_hits_total",
			Help: "Embedding lookups served from the local cache",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrec_embedding_cache_misses_total",
			Help: "Embedding lookups that went to the backing source",
		},
	)
)
