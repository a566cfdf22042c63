package filter

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
)

// UserBlockFilter 过滤用户自己隐藏的帖子，名单存放在 {KeyPrefix}:{UserID}，JSON 数组格式。
type UserBlockFilter struct {
	Store     core.Store
	KeyPrefix string
}

// NewUserBlockFilter 创建一个用户隐藏帖子过滤器。
func NewUserBlockFilter(store core.Store, keyPrefix string) *UserBlockFilter {
	return &UserBlockFilter{Store: store, KeyPrefix: keyPrefix}
}

func (f *UserBlockFilter) Name() string {
	return "filter.user_block"
}

func (f *UserBlockFilter) key(userID int64) string {
	return f.KeyPrefix + ":" + strconv.FormatInt(userID, 10)
}

// Bind 读取该用户的隐藏名单。
func (f *UserBlockFilter) Bind(ctx context.Context, rctx *core.RecommendContext) (Filter, error) {
	set := make(idSet)
	if f.Store == nil || rctx == nil {
		return &boundBlocklist{name: f.Name(), set: set}, nil
	}
	key := f.key(rctx.UserID)
	data, err := f.Store.Get(ctx, key)
	switch {
	case core.IsStoreNotFound(err):
		return &boundBlocklist{name: f.Name(), set: set}, nil
	case err != nil:
		return nil, core.ExternalError(core.ModuleTimeline, "filter: load user blocks "+key, err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, core.DataIntegrityErrorf(core.ModuleTimeline, "filter: user blocks %s is not a JSON id list: %v", key, err)
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &boundBlocklist{name: f.Name(), set: set}, nil
}

// ShouldFilter 不经 Bind 直接调用时不过滤任何候选。
func (f *UserBlockFilter) ShouldFilter(_ context.Context, _ *core.RecommendContext, _ *core.Item) (bool, error) {
	return false, nil
}
