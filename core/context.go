package core

import "github.com/rushteam/mmrec/pkg/utils"

// RecommendContext 承载一次时间线请求的用户与分页信息，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	// UserID 是外部用户 ID
	UserID int64

	// UserIndex 是训练时的稠密用户下标；冷启动用户为 -1
	UserIndex int

	// Cold 表示该用户未出现在训练集中
	Cold bool

	// Offset / Limit 是分页窗口，Limit <= 0 表示取剩余全部
	Offset int
	Limit  int

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级上下文参数
	Params map[string]any
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// SetParam 写入请求级参数。
func (rctx *RecommendContext) SetParam(key string, v any) {
	if rctx.Params == nil {
		rctx.Params = make(map[string]any)
	}
	rctx.Params[key] = v
}
