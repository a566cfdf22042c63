package rank

import (
	"context"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
	"github.com/rushteam/mmrec/pkg/utils"
)

// PopularityNode 是冷启动用户的打分：item.Score = 点赞数 + 评论数。
// 候选源没有给出流行度时记为 0。
type PopularityNode struct{}

func (n *PopularityNode) Name() string        { return "rank.popularity" }
func (n *PopularityNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *PopularityNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	for _, it := range items {
		it.Score = it.PopularityScore()
		it.PutLabel(utils.LabelRankModel, utils.Label{Value: "popularity", Source: "rank"})
	}
	return items, nil
}
