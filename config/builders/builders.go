// Package builders 注册内置的附加策略 Node，供 pipeline 配置文件引用。
package builders

import (
	"fmt"

	"github.com/rushteam/mmrec/config"
	"github.com/rushteam/mmrec/filter"
	"github.com/rushteam/mmrec/pipeline"
	"github.com/rushteam/mmrec/pkg/conv"
	"github.com/rushteam/mmrec/rerank"
)

func init() {
	config.Register("filter.blocklist", BuildBlocklistNode)
	config.Register("filter.user_block", BuildUserBlockNode)
	config.Register("filter.expr", BuildExprNode)
	config.Register("rerank.author_cap", BuildAuthorCapNode)
	config.Register("rerank.topn", BuildTopNNode)
}

// BuildBlocklistNode
//
//	item_ids: [42, 43]
//	key: hidden_posts     # 可选，store 中的 JSON 数组
func BuildBlocklistNode(cfg map[string]interface{}) (pipeline.Node, error) {
	ids := conv.SliceAnyToInt64(cfg["item_ids"])
	key := conv.ConfigGet(cfg, "key", "")
	store := config.Deps().Store
	if key != "" && store == nil {
		return nil, fmt.Errorf("filter.blocklist: key %q needs a store", key)
	}
	return &filter.FilterNode{Filters: []filter.Filter{filter.NewBlocklistFilter(ids, store, key)}}, nil
}

// BuildUserBlockNode
//
//	key_prefix: user_hidden
func BuildUserBlockNode(cfg map[string]interface{}) (pipeline.Node, error) {
	store := config.Deps().Store
	if store == nil {
		return nil, fmt.Errorf("filter.user_block needs a store")
	}
	prefix := conv.ConfigGet(cfg, "key_prefix", "user_hidden")
	return &filter.FilterNode{Filters: []filter.Filter{filter.NewUserBlockFilter(store, prefix)}}, nil
}

// BuildExprNode
//
//	expr: "item.age_hours > 720.0"
func BuildExprNode(cfg map[string]interface{}) (pipeline.Node, error) {
	expr := conv.ConfigGet(cfg, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("filter.expr: expr not found")
	}
	f, err := filter.NewExprFilter(expr)
	if err != nil {
		return nil, err
	}
	return &filter.FilterNode{Filters: []filter.Filter{f}}, nil
}

func BuildAuthorCapNode(cfg map[string]interface{}) (pipeline.Node, error) {
	n := conv.ConfigGetInt64(cfg, "max_per_author", 0)
	if n <= 0 {
		return nil, fmt.Errorf("rerank.author_cap: max_per_author must be positive")
	}
	return &rerank.AuthorCap{
		MaxPerAuthor: int(n),
		MetaKey:      conv.ConfigGet(cfg, "meta_key", "author_id"),
	}, nil
}

func BuildTopNNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}
