package filter

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
)

// BlocklistFilter 过滤被隐藏的帖子。
//
// 黑名单来自两处：内存中的 ItemIDs，以及 Store 中 Key 对应的 JSON 数组（例如 [12, 34]）。
// Store 中的名单每个请求读取一次，key 不存在视为空名单。
type BlocklistFilter struct {
	ItemIDs []int64
	Store   core.Store
	Key     string
}

// NewBlocklistFilter 创建一个黑名单过滤器，store 可以为 nil。
func NewBlocklistFilter(itemIDs []int64, store core.Store, key string) *BlocklistFilter {
	return &BlocklistFilter{ItemIDs: itemIDs, Store: store, Key: key}
}

func (f *BlocklistFilter) Name() string {
	return "filter.blocklist"
}

// Bind 读取 Store 中的名单，与静态名单合并成本次请求使用的集合。
func (f *BlocklistFilter) Bind(ctx context.Context, _ *core.RecommendContext) (Filter, error) {
	set := make(idSet, len(f.ItemIDs))
	for _, id := range f.ItemIDs {
		set[id] = struct{}{}
	}
	if f.Store == nil || f.Key == "" {
		return &boundBlocklist{name: f.Name(), set: set}, nil
	}

	data, err := f.Store.Get(ctx, f.Key)
	switch {
	case core.IsStoreNotFound(err):
		return &boundBlocklist{name: f.Name(), set: set}, nil
	case err != nil:
		return nil, core.ExternalError(core.ModuleTimeline, "filter: load blocklist "+f.Key, err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, core.DataIntegrityErrorf(core.ModuleTimeline, "filter: blocklist %s is not a JSON id list: %v", f.Key, err)
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &boundBlocklist{name: f.Name(), set: set}, nil
}

// ShouldFilter 只检查静态名单；经 FilterNode 使用时会先 Bind 合并 Store 名单。
func (f *BlocklistFilter) ShouldFilter(_ context.Context, _ *core.RecommendContext, item *core.Item) (bool, error) {
	for _, id := range f.ItemIDs {
		if item.ID == id {
			return true, nil
		}
	}
	return false, nil
}

type idSet map[int64]struct{}

type boundBlocklist struct {
	name string
	set  idSet
}

func (b *boundBlocklist) Name() string { return b.name }

func (b *boundBlocklist) ShouldFilter(_ context.Context, _ *core.RecommendContext, item *core.Item) (bool, error) {
	_, ok := b.set[item.ID]
	return ok, nil
}
