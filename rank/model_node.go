// Package rank 提供在线排序链路的打分 Node。
package rank

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/pipeline"
	"github.com/rushteam/mmrec/pkg/utils"
)

// ModelNode 用一次批量前向给热用户的全部候选打分。
//   - 写入 labels：rank_model
//   - 只更新 item.Score，不排序（排序交给 rerank.SortNode）
//
// Snapshot 在请求开始时取一次，整个请求内不变，模型热替换不会影响进行中的请求。
type ModelNode struct {
	Snapshot *model.Snapshot
}

func (n *ModelNode) Name() string        { return "rank.model" }
func (n *ModelNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *ModelNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.Snapshot == nil || n.Snapshot.Model == nil {
		return nil, core.ErrModelNotLoaded
	}
	if len(items) == 0 {
		return items, nil
	}
	if rctx.UserIndex < 0 || rctx.UserIndex >= n.Snapshot.NumUsers() {
		return nil, core.InvalidInputErrorf(core.ModuleTimeline, "rank: user %d has no trained embedding", rctx.UserID)
	}

	b, err := n.batch(rctx.UserIndex, items)
	if err != nil {
		return nil, err
	}
	scores, err := model.Predict(n.Snapshot.Model, b)
	if err != nil {
		return nil, err
	}

	name := n.Snapshot.Model.Name()
	for i, it := range items {
		it.Score = scores[i]
		it.PutLabel(utils.LabelRankModel, utils.Label{Value: name, Source: "rank"})
	}
	return items, nil
}

func (n *ModelNode) batch(user int, items []*core.Item) (*model.Batch, error) {
	cfg := n.Snapshot.Model.Config()
	b := &model.Batch{
		Users: make([]int, len(items)),
		Items: make([]int, len(items)),
	}
	if cfg.Multimodal() {
		b.Image = mat.NewDense(len(items), cfg.ImageFeatureDim, nil)
		b.Text = mat.NewDense(len(items), cfg.TextFeatureDim, nil)
	}
	for i, it := range items {
		b.Users[i] = user
		b.Items[i] = n.Snapshot.ItemIndex(it.ID)
		if !cfg.Multimodal() {
			continue
		}
		if len(it.ImageFeature) != cfg.ImageFeatureDim || len(it.TextFeature) != cfg.TextFeatureDim {
			return nil, core.DataIntegrityErrorf(core.ModuleTimeline,
				"rank: post %d has embedding dims (%d, %d), want (%d, %d)",
				it.ID, len(it.ImageFeature), len(it.TextFeature), cfg.ImageFeatureDim, cfg.TextFeatureDim)
		}
		b.Image.SetRow(i, it.ImageFeature)
		b.Text.SetRow(i, it.TextFeature)
	}
	return b, nil
}
