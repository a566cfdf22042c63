// Package engine 是训练/评估引擎。
//
// 一个 Engine 持有一个 model.Model，按轮次串行执行：
//
//	Idle → TrainingEpoch → Evaluating → Checkpointed → (下一轮 | Idle)
//
// TrainSingleBatch 是唯一修改模型参数的入口；Evaluate 只做前向，可以分块并发打分。
// 所有操作在模型未设置时返回 core.ErrModelNotSet。
package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/nn"
	"github.com/rushteam/mmrec/sample"
)

// State 是引擎所处的阶段。
type State int32

const (
	StateIdle State = iota
	StateTrainingEpoch
	StateEvaluating
	StateCheckpointed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTrainingEpoch:
		return "training_epoch"
	case StateEvaluating:
		return "evaluating"
	case StateCheckpointed:
		return "checkpointed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Engine 训练/评估引擎。不可并发调用训练方法。
type Engine struct {
	model    model.Model
	opt      nn.Optimizer
	features *core.FeatureTable
	idMap    *core.IDMap

	store    core.BlobStore
	registry *checkpoint.Registry
	reporter Reporter
	logger   zerolog.Logger
	runID    string

	evalBatchSize int
	evalWorkers   int
	topK          int

	state    atomic.Int32
	lastLoss float64
}

// Option 配置 Engine。
type Option func(*Engine)

// WithOptimizer 设置优化器，默认 Adam(lr=1e-3)。
func WithOptimizer(opt nn.Optimizer) Option {
	return func(e *Engine) { e.opt = opt }
}

// WithFeatures 设置训练/评估使用的内容 embedding 表，多模态模型必需。
func WithFeatures(t *core.FeatureTable) Option {
	return func(e *Engine) { e.features = t }
}

// WithIDMap 设置外部 ID 映射，随 checkpoint 一同保存。
func WithIDMap(m *core.IDMap) Option {
	return func(e *Engine) { e.idMap = m }
}

// WithCheckpointStore 设置 checkpoint 存储。
func WithCheckpointStore(s core.BlobStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithRegistry 设置 checkpoint 指标索引。
func WithRegistry(r *checkpoint.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithReporter 设置每轮指标上报。
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithLogger 设置日志器。
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRunID 设置本次训练的 run ID，默认随机 UUID。
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithBatchedEval 启用分块评估：每块 batchSize 行，最多 workers 个块并发打分。
// batchSize <= 0 表示整体一次前向。
func WithBatchedEval(batchSize, workers int) Option {
	return func(e *Engine) {
		e.evalBatchSize = batchSize
		e.evalWorkers = workers
	}
}

// WithTopK 设置 HR@K / NDCG@K 的 K，默认 10。
func WithTopK(k int) Option {
	return func(e *Engine) { e.topK = k }
}

// New 创建引擎。m 可以为 nil，稍后通过 SetModel 设置。
func New(m model.Model, opts ...Option) *Engine {
	e := &Engine{
		model:  m,
		opt:    nn.NewAdam(1e-3, 0),
		logger: logging.Component("engine"),
		runID:  uuid.NewString(),
		topK:   core.DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reporter == nil {
		e.reporter = NewLogReporter(e.logger)
	}
	if e.evalWorkers <= 0 {
		e.evalWorkers = 1
	}
	return e
}

// SetModel 替换引擎持有的模型。
func (e *Engine) SetModel(m model.Model) { e.model = m }

// Model 返回当前模型。
func (e *Engine) Model() model.Model { return e.model }

// RunID 返回本次训练的 run ID。
func (e *Engine) RunID() string { return e.runID }

// State 返回当前阶段，可被其他 goroutine 读取。
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// TrainSingleBatch 对一个批次执行：清零梯度 → 前向 → BCE loss → 反向 → 优化器更新。
// loss 为 NaN/Inf 时返回 NUMERICAL 错误且不更新参数。
func (e *Engine) TrainSingleBatch(b *sample.Batch) (float64, error) {
	if e.model == nil {
		return 0, core.ErrModelNotSet
	}
	in, err := e.batch(b.Users, b.Items)
	if err != nil {
		return 0, err
	}
	params := e.model.Params()
	nn.ZeroGrads(params)

	out, err := e.model.Forward(in)
	if err != nil {
		return 0, err
	}
	loss := nn.BCELoss(out.Scores, b.Ratings)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, core.NumericalErrorf(core.ModuleEngine, "engine: non-finite loss %v", loss)
	}
	out.Backward(nn.BCEGradLogits(out.Scores, b.Ratings))
	e.opt.Step(params)
	return loss, nil
}

// TrainAnEpoch 顺序消费 loader 的全部批次，返回累计 loss。
func (e *Engine) TrainAnEpoch(ctx context.Context, loader *sample.Loader, epoch int) (float64, error) {
	if e.model == nil {
		return 0, core.ErrModelNotSet
	}
	e.setState(StateTrainingEpoch)
	defer e.setState(StateIdle)

	var total float64
	for i, b := range loader.Batches() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		loss, err := e.TrainSingleBatch(b)
		if err != nil {
			return total, fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
		}
		total += loss
	}
	e.lastLoss = total
	e.logger.Debug().Int("epoch", epoch).Int("batches", loader.NumBatches()).Float64("loss", total).Msg("epoch trained")
	return total, nil
}

// batch 把下标对组装成模型输入，多模态模型按 item 下标从特征表取 embedding。
func (e *Engine) batch(users, items []int) (*model.Batch, error) {
	cfg := e.model.Config()
	b := &model.Batch{Users: users, Items: items}
	if !cfg.Multimodal() {
		return b, nil
	}
	if e.features == nil {
		return nil, core.ConfigurationError(core.ModuleEngine, "engine: multimodal model requires a feature table")
	}
	image, err := gather("image", e.features.Image, items, cfg.ImageFeatureDim)
	if err != nil {
		return nil, err
	}
	text, err := gather("text", e.features.Text, items, cfg.TextFeatureDim)
	if err != nil {
		return nil, err
	}
	b.Image, b.Text = image, text
	return b, nil
}

func gather(kind string, table [][]float64, items []int, dim int) (*mat.Dense, error) {
	out := mat.NewDense(len(items), dim, nil)
	for r, it := range items {
		if it < 0 || it >= len(table) {
			return nil, core.DataIntegrityErrorf(core.ModuleEngine, "engine: no %s embedding for item %d", kind, it)
		}
		row := table[it]
		if len(row) != dim {
			return nil, core.DataIntegrityErrorf(core.ModuleEngine,
				"engine: %s embedding of item %d has dim %d, want %d", kind, it, len(row), dim)
		}
		out.SetRow(r, row)
	}
	return out, nil
}
