package feature

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
	"github.com/rushteam/mmrec/pkg/utils"
)

// EnrichNode 为缺少内容 embedding 的候选补齐 embedding。
//   - 候选已带 embedding 时不再查询
//   - 分块批量查询，块之间并发
//   - 补齐后仍缺 embedding 的候选被剔除，不进入打分
//   - ImageDim/TextDim 大于 0 时校验维度，不一致返回 DATA_INTEGRITY
type EnrichNode struct {
	Source      core.EmbeddingSource
	ImageDim    int
	TextDim     int
	BatchSize   int // 默认 200
	Concurrency int // 默认 4
}

func (n *EnrichNode) Name() string        { return "feature.enrich" }
func (n *EnrichNode) Kind() pipeline.Kind { return pipeline.KindFeature }

func (n *EnrichNode) Process(
	ctx context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	var missing []int64
	for _, it := range items {
		if !it.HasEmbeddings() {
			missing = append(missing, it.ID)
		}
	}
	if len(missing) > 0 {
		fetched, err := n.fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if emb, ok := fetched[it.ID]; ok && !it.HasEmbeddings() {
				it.ImageFeature, it.TextFeature = emb.Image, emb.Text
				it.PutLabel(utils.LabelEmbeddingSource, utils.Label{Value: n.Source.Name(), Source: "feature"})
			}
		}
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if !it.HasEmbeddings() {
			continue
		}
		if n.ImageDim > 0 || n.TextDim > 0 {
			emb := &core.Embedding{Image: it.ImageFeature, Text: it.TextFeature}
			if err := Validate(it.ID, emb, n.ImageDim, n.TextDim); err != nil {
				return nil, err
			}
		}
		out = append(out, it)
	}
	return out, nil
}

func (n *EnrichNode) fetch(ctx context.Context, ids []int64) (map[int64]*core.Embedding, error) {
	size := n.BatchSize
	if size <= 0 {
		size = 200
	}
	workers := n.Concurrency
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	out := make(map[int64]*core.Embedding, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(ids); start += size {
		chunk := ids[start:min(start+size, len(ids))]
		g.Go(func() error {
			got, err := n.Source.BatchGetEmbeddings(ctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, emb := range got {
				out[id] = emb
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
