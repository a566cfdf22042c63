package pipeline

import (
	"context"

	"github.com/rushteam/mmrec/core"
)

// Kind 用于标记 Node 类型，方便观测/治理/编排（例如按阶段打点）。
type Kind string

const (
	KindFeature Kind = "feature" // 特征阶段：补齐候选的内容 embedding
	KindRank    Kind = "rank"    // 排序阶段：对候选打分
	KindFilter  Kind = "filter"  // 过滤阶段：剔除阈值以下或被策略屏蔽的候选
	KindReRank  Kind = "rerank"  // 重排阶段：排序、打散、分页
)

// Node 是 Pipeline 的最小可扩展单元。
// 统一采用"输入 items -> 输出 items"的形态，方便打分、过滤截断、排序分页等操作。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RecommendContext,
		items []*core.Item,
	) ([]*core.Item, error)
}
