package pipeline

import (
	"context"
	"fmt"

	"github.com/rushteam/mmrec/core"
)

// Pipeline 把在线排序逻辑拆成可组合的 Node 链，按顺序执行。
// 任一 Node 返回错误时整条链失败，不返回部分结果。
type Pipeline struct {
	Nodes []Node
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := node.Process(ctx, rctx, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}
