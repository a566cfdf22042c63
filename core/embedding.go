package core

import "context"

// Embedding 是一个帖子的多模态内容向量。
type Embedding struct {
	Image []float64 `json:"image"`
	Text  []float64 `json:"text"`
}

// EmbeddingSource 是内容 embedding 来源的领域接口。
//
// 实现：
//   - feature.StoreSource（Redis / 内存）
//   - feature.FeastSource（Feast 在线特征）
//   - feature.CachedSource（本地 LRU 包装）
//
// embedding 在上游已做 L2 归一化，这里不校验范数。
type EmbeddingSource interface {
	// Name 返回来源名称（用于日志/监控）
	Name() string

	// GetEmbedding 获取单个帖子的 embedding，不存在时返回 NOT_FOUND
	GetEmbedding(ctx context.Context, itemID int64) (*Embedding, error)

	// BatchGetEmbeddings 批量获取，缺失的帖子不出现在结果中
	BatchGetEmbeddings(ctx context.Context, itemIDs []int64) (map[int64]*Embedding, error)
}

// CandidateSource 提供在线排序的候选池。
// 热用户候选池不带流行度；冷启动候选池带 Popularity。
type CandidateSource interface {
	WarmCandidates(ctx context.Context, limit int) ([]*Item, error)
	ColdCandidates(ctx context.Context, limit int) ([]*Item, error)
}

// BlobStore 是模型 checkpoint 等二进制制品的存储接口。
// Put 必须是原子的：失败时不得留下半截制品。
type BlobStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
