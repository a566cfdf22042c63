package rerank

import (
	"context"
	"fmt"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
)

// AuthorCap 限制同一作者在结果中出现的次数，保持输入顺序，用在排序之后、分页之前。
// 作者取自 meta["author_id"]，没有作者信息的候选不受限制。
type AuthorCap struct {
	MaxPerAuthor int    // <= 0 时不限制
	MetaKey      string // 默认 "author_id"
}

func (n *AuthorCap) Name() string {
	return "rerank.author_cap"
}

func (n *AuthorCap) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *AuthorCap) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.MaxPerAuthor <= 0 || len(items) == 0 {
		return items, nil
	}
	key := n.MetaKey
	if key == "" {
		key = "author_id"
	}

	seen := make(map[string]int, 32)
	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		v, ok := it.Meta[key]
		if !ok || v == nil {
			out = append(out, it)
			continue
		}
		author := fmt.Sprint(v)
		if seen[author] >= n.MaxPerAuthor {
			continue
		}
		seen[author]++
		out = append(out, it)
	}
	return out, nil
}
