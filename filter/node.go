package filter

import (
	"context"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
	"github.com/rushteam/mmrec/pkg/utils"
)

// FilterNode 是过滤 Node，可以组合多个过滤器进行过滤。
// 如果任何一个过滤器返回 true，该物品就会被过滤掉；过滤器出错时整个请求失败。
type FilterNode struct {
	Filters []Filter
}

func (n *FilterNode) Name() string {
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(n.Filters) == 0 || len(items) == 0 {
		return items, nil
	}

	filters, err := Bind(ctx, rctx, n.Filters)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Item, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		reason, err := firstMatch(ctx, rctx, filters, item)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			item.PutLabel(utils.LabelFiltered, utils.Label{Value: "true", Source: reason})
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func firstMatch(ctx context.Context, rctx *core.RecommendContext, filters []Filter, item *core.Item) (string, error) {
	for _, f := range filters {
		ok, err := f.ShouldFilter(ctx, rctx, item)
		if err != nil {
			return "", err
		}
		if ok {
			return f.Name(), nil
		}
	}
	return "", nil
}
