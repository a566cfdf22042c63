// Package feature 提供帖子内容 embedding 的来源：KV 存储、Feast 在线特征、本地缓存与降级组合，
// 以及在线排序链路中补齐 embedding 的 EnrichNode。
//
// embedding 由上游多模态编码服务产出并做过 L2 归一化，这里只校验维度，不校验范数。
package feature

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
)

// DefaultKeyPrefix 是 embedding 在 KV 存储中的 key 前缀，完整 key 为 post:emb:{post_id}。
const DefaultKeyPrefix = "post:emb:"

// StoreSource 从 core.Store（Redis / 内存）读取 JSON 编码的 embedding：
//
//	{"image": [...], "text": [...]}
type StoreSource struct {
	store  core.Store
	prefix string
}

// NewStoreSource 创建基于 KV 存储的 embedding 来源，prefix 为空时使用 DefaultKeyPrefix。
func NewStoreSource(store core.Store, prefix string) *StoreSource {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &StoreSource{store: store, prefix: prefix}
}

func (s *StoreSource) Name() string {
	return fmt.Sprintf("store.%s", s.store.Name())
}

func (s *StoreSource) key(id int64) string {
	return s.prefix + strconv.FormatInt(id, 10)
}

func (s *StoreSource) GetEmbedding(ctx context.Context, itemID int64) (*core.Embedding, error) {
	data, err := s.store.Get(ctx, s.key(itemID))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, notFound(itemID)
		}
		return nil, core.ExternalError(core.ModuleFeature, "feature: get embedding", err)
	}
	return decode(itemID, data)
}

func (s *StoreSource) BatchGetEmbeddings(ctx context.Context, itemIDs []int64) (map[int64]*core.Embedding, error) {
	if len(itemIDs) == 0 {
		return map[int64]*core.Embedding{}, nil
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = s.key(id)
	}
	raw, err := s.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, core.ExternalError(core.ModuleFeature, "feature: batch get embeddings", err)
	}
	out := make(map[int64]*core.Embedding, len(raw))
	for k, data := range raw {
		id, err := strconv.ParseInt(strings.TrimPrefix(k, s.prefix), 10, 64)
		if err != nil {
			continue
		}
		emb, err := decode(id, data)
		if err != nil {
			return nil, err
		}
		out[id] = emb
	}
	return out, nil
}

// Put 写入一个帖子的 embedding，供离线导入与测试使用。
func (s *StoreSource) Put(ctx context.Context, itemID int64, emb *core.Embedding, ttl ...int) error {
	data, err := json.Marshal(emb)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.key(itemID), data, ttl...)
}

func decode(id int64, data []byte) (*core.Embedding, error) {
	var emb core.Embedding
	if err := json.Unmarshal(data, &emb); err != nil {
		return nil, core.DataIntegrityErrorf(core.ModuleFeature, "feature: embedding of post %d is corrupt: %v", id, err)
	}
	return &emb, nil
}

func notFound(id int64) error {
	return core.NewDomainError(core.ModuleFeature, core.ErrorCodeNotFound, fmt.Sprintf("feature: no embedding for post %d", id))
}

// Validate 校验 embedding 维度与模型配置一致。
func Validate(id int64, emb *core.Embedding, imageDim, textDim int) error {
	if emb == nil || len(emb.Image) != imageDim || len(emb.Text) != textDim {
		got := [2]int{}
		if emb != nil {
			got = [2]int{len(emb.Image), len(emb.Text)}
		}
		return core.DataIntegrityErrorf(core.ModuleFeature,
			"feature: post %d has embedding dims (%d, %d), want (%d, %d)", id, got[0], got[1], imageDim, textDim)
	}
	return nil
}

var _ core.EmbeddingSource = (*StoreSource)(nil)
