// Package rerank 提供在线排序链路末端的排序、打散与分页 Node。
package rerank

import (
	"context"
	"sort"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
)

// SortBy 是排序键。
type SortBy string

const (
	SortByScore   SortBy = "score"   // 按分数降序，热用户
	SortByRecency SortBy = "recency" // 按发布时间降序，冷启动用户
)

// SortNode 按 By 做稳定降序排序，相同键保持输入顺序。
type SortNode struct {
	By SortBy
}

func (n *SortNode) Name() string        { return "rerank.sort" }
func (n *SortNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *SortNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	switch n.By {
	case SortByRecency:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	case SortByScore, "":
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Score > items[j].Score
		})
	default:
		return nil, core.InvalidInputErrorf(core.ModuleTimeline, "rerank: unknown sort key %q", n.By)
	}
	return items, nil
}
