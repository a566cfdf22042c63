package filter

import (
	"context"

	"github.com/rushteam/mmrec/core"
)

// ThresholdFilter 过滤 score <= Threshold 的候选，只保留严格大于阈值的。
//
// 热用户的 score 是模型打分，冷启动用户的 score 是流行度，两条分支共用这一过滤器。
type ThresholdFilter struct {
	Threshold float64
}

func (f *ThresholdFilter) Name() string { return "filter.threshold" }

func (f *ThresholdFilter) ShouldFilter(_ context.Context, _ *core.RecommendContext, item *core.Item) (bool, error) {
	return item.Score <= f.Threshold, nil
}
