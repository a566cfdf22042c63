package rerank

import (
	"context"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
)

// PageNode 是分页窗口节点，在过滤与排序之后使用，窗口取自 rctx.Offset / rctx.Limit。
//
//   - Offset < 0 返回 INVALID_INPUT
//   - Offset >= 结果数 返回空列表（不是错误）
//   - Limit <= 0 表示取剩余全部，否则截断到剩余数量
//
// 示例：
//
//	pipeline := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &rank.ModelNode{Snapshot: snap},
//	        &filter.FilterNode{Filters: []filter.Filter{&filter.ThresholdFilter{Threshold: 0.5}}},
//	        &rerank.SortNode{By: rerank.SortByScore},
//	        &rerank.PageNode{},
//	    },
//	}
type PageNode struct{}

func (n *PageNode) Name() string {
	return "rerank.page"
}

func (n *PageNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *PageNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	return Page(items, rctx.Offset, rctx.Limit)
}

// Page 返回 items[offset : offset+limit]，越界规则同 PageNode。
func Page(items []*core.Item, offset, limit int) ([]*core.Item, error) {
	if offset < 0 {
		return nil, core.InvalidInputErrorf(core.ModuleTimeline, "rerank: offset must be >= 0, got %d", offset)
	}
	if offset >= len(items) {
		return []*core.Item{}, nil
	}
	rest := len(items) - offset
	if limit <= 0 || limit > rest {
		limit = rest
	}
	return items[offset : offset+limit], nil
}

// TopNNode 截取前 N 个候选，N <= 0 时不截断。排序之后、分页之前运行。
type TopNNode struct {
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.N <= 0 || len(items) <= n.N {
		return items, nil
	}
	return items[:n.N], nil
}
