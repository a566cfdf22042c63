// Package filter 提供在线排序链路的过滤器与过滤 Node。
//
// 热用户与冷启动用户都先经过 ThresholdFilter（严格大于阈值才保留），
// 附加策略（屏蔽名单、用户隐藏、CEL 表达式）通过 config 注册表按 YAML 追加。
package filter

import (
	"context"

	"github.com/rushteam/mmrec/core"
)

// Filter 判断候选是否应被移除，返回 true 表示过滤。
type Filter interface {
	Name() string
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}

// Binder 是需要按请求加载外部数据的过滤器（例如从 Store 读取名单），
// Bind 返回本次请求使用的 Filter。
type Binder interface {
	Bind(ctx context.Context, rctx *core.RecommendContext) (Filter, error)
}

// Bind 对实现了 Binder 的过滤器逐个绑定请求，其余原样返回。
func Bind(ctx context.Context, rctx *core.RecommendContext, filters []Filter) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if b, ok := f.(Binder); ok {
			bound, err := b.Bind(ctx, rctx)
			if err != nil {
				return nil, err
			}
			f = bound
		}
		out = append(out, f)
	}
	return out, nil
}
