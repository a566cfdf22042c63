// Package timeline 是在线时间线排序：按请求选择冷启动或热用户分支，
// 组装 打分 → 阈值过滤 → 策略过滤 → 排序 → 分页 的 Node 链。
//
//   - 冷启动用户（不在训练集中）：score = 流行度，保留 score > NewUserThreshold，按发布时间降序
//   - 热用户：多模态融合模型一次批量前向打分，保留 score > ExistingUserThreshold，按分数降序
//
// 模型快照由调用方在请求入口处从 model.Handle 取出并传入，整个请求内不变。
package timeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/filter"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/metrics"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/pipeline"
	"github.com/rushteam/mmrec/rank"
	"github.com/rushteam/mmrec/rerank"
)

// Branch 标识请求走的分支。
type Branch string

const (
	BranchCold Branch = "cold"
	BranchWarm Branch = "warm"
)

// Request 是一次时间线请求。Limit <= 0 表示取剩余全部。
type Request struct {
	UserID int64 `json:"user_id"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

// Result 是排序结果。Total 是分页前通过过滤的候选数。
type Result struct {
	Items        []*core.Item
	Branch       Branch
	ModelVersion string
	Total        int
}

// Ranker 在线排序器，创建后只读，可被并发请求共享。
type Ranker struct {
	NewUserThreshold      float64
	ExistingUserThreshold float64

	// Policy 是追加的策略 Node。过滤类 Node 插在阈值过滤之后、排序之前；
	// rerank 类 Node（如作者打散）插在排序之后、分页之前
	Policy []pipeline.Node

	// Enrich 在热用户打分前补齐候选的内容 embedding，可为 nil
	Enrich pipeline.Node

	// CandidatePool 是从候选源拉取的候选上限，<= 0 表示不限制
	CandidatePool int

	Logger zerolog.Logger
}

// NewRanker 创建排序器。
func NewRanker(newUserThreshold, existingUserThreshold float64, policy ...pipeline.Node) *Ranker {
	return &Ranker{
		NewUserThreshold:      newUserThreshold,
		ExistingUserThreshold: existingUserThreshold,
		Policy:                policy,
		Logger:                logging.Component("timeline"),
	}
}

// Context 按快照判定用户分支，生成请求上下文。
func Context(snap *model.Snapshot, req Request) *core.RecommendContext {
	idx := snap.UserIndex(req.UserID)
	return &core.RecommendContext{
		UserID:    req.UserID,
		UserIndex: idx,
		Cold:      idx < 0,
		Offset:    req.Offset,
		Limit:     req.Limit,
	}
}

func branchOf(rctx *core.RecommendContext) Branch {
	if rctx.Cold {
		return BranchCold
	}
	return BranchWarm
}

// Rank 对调用方提供的候选池排序。没有候选通过阈值时返回空结果而不是错误。
func (r *Ranker) Rank(ctx context.Context, snap *model.Snapshot, req Request, candidates []*core.Item) (*Result, error) {
	if snap == nil || snap.Model == nil {
		return nil, core.ErrModelNotLoaded
	}
	if req.Offset < 0 {
		return nil, core.InvalidInputErrorf(core.ModuleTimeline, "timeline: offset must be >= 0, got %d", req.Offset)
	}
	rctx := Context(snap, req)
	return r.run(ctx, snap, rctx, candidates)
}

func (r *Ranker) run(ctx context.Context, snap *model.Snapshot, rctx *core.RecommendContext, candidates []*core.Item) (res *Result, err error) {
	branch := branchOf(rctx)
	started := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Total == 0:
			outcome = "empty"
		}
		metrics.TimelineRequests.WithLabelValues(string(branch), outcome).Inc()
		metrics.TimelineDuration.WithLabelValues(string(branch)).Observe(time.Since(started).Seconds())
	}()
	metrics.TimelineCandidates.Observe(float64(len(candidates)))

	items, err := r.chain(snap, rctx).Run(ctx, rctx, candidates)
	if err != nil {
		return nil, err
	}
	page, err := (&rerank.PageNode{}).Process(ctx, rctx, items)
	if err != nil {
		return nil, err
	}

	r.Logger.Debug().
		Int64("user_id", rctx.UserID).
		Str("branch", string(branch)).
		Int("candidates", len(candidates)).
		Int("total", len(items)).
		Int("returned", len(page)).
		Msg("timeline ranked")
	return &Result{
		Items:        page,
		Branch:       branch,
		ModelVersion: snap.Version,
		Total:        len(items),
	}, nil
}

func (r *Ranker) chain(snap *model.Snapshot, rctx *core.RecommendContext) *pipeline.Pipeline {
	var score pipeline.Node
	threshold := r.ExistingUserThreshold
	by := rerank.SortByScore
	if rctx.Cold {
		score = &rank.PopularityNode{}
		threshold = r.NewUserThreshold
		by = rerank.SortByRecency
	} else {
		score = &rank.ModelNode{Snapshot: snap}
	}

	nodes := make([]pipeline.Node, 0, len(r.Policy)+4)
	if !rctx.Cold && r.Enrich != nil {
		nodes = append(nodes, r.Enrich)
	}
	nodes = append(nodes,
		score,
		&filter.FilterNode{Filters: []filter.Filter{&filter.ThresholdFilter{Threshold: threshold}}},
	)
	var reranks []pipeline.Node
	for _, n := range r.Policy {
		if n.Kind() == pipeline.KindReRank {
			reranks = append(reranks, n)
			continue
		}
		nodes = append(nodes, n)
	}
	nodes = append(nodes, &rerank.SortNode{By: by})
	nodes = append(nodes, reranks...)
	return &pipeline.Pipeline{Nodes: nodes}
}

// Timeline 从候选源拉取候选并排序：冷启动用户取带流行度的候选池，热用户取全量候选池。
func (r *Ranker) Timeline(ctx context.Context, snap *model.Snapshot, req Request, src core.CandidateSource) (*Result, error) {
	if snap == nil || snap.Model == nil {
		return nil, core.ErrModelNotLoaded
	}
	if req.Offset < 0 {
		return nil, core.InvalidInputErrorf(core.ModuleTimeline, "timeline: offset must be >= 0, got %d", req.Offset)
	}
	rctx := Context(snap, req)

	var (
		candidates []*core.Item
		err        error
	)
	if rctx.Cold {
		candidates, err = src.ColdCandidates(ctx, r.CandidatePool)
	} else {
		candidates, err = src.WarmCandidates(ctx, r.CandidatePool)
	}
	if err != nil {
		if core.IsDomainError(err) {
			return nil, err
		}
		return nil, core.ExternalError(core.ModuleTimeline, "timeline: load candidates", err)
	}
	return r.run(ctx, snap, rctx, candidates)
}
