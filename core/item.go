package core

import (
	"time"

	"github.com/rushteam/mmrec/pkg/utils"
)

// Item 是在线排序链路中的候选帖子：内容 embedding、流行度、分数、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
type Item struct {
	// ID 是外部帖子 ID（post_id）
	ID        int64
	CreatedAt time.Time

	// ImageFeature / TextFeature 是上游多模态编码服务产出的 embedding，只读
	ImageFeature []float64
	TextFeature  []float64

	// Popularity 仅冷启动候选池携带（点赞数 + 评论数）
	Popularity *float64

	Score  float64
	Meta   map[string]any
	Labels map[string]utils.Label
}

func NewItem(id int64) *Item {
	return &Item{
		ID:     id,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// HasEmbeddings 表示图像和文本 embedding 是否都已就绪。
func (it *Item) HasEmbeddings() bool {
	return len(it.ImageFeature) > 0 && len(it.TextFeature) > 0
}

// PopularityScore 返回流行度，缺失时为 0。
func (it *Item) PopularityScore() float64 {
	if it.Popularity == nil {
		return 0
	}
	return *it.Popularity
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}
