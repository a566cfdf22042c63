package feature

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/logging"
)

// FallbackSource 先查 Primary，Primary 失败或缺失的帖子再查 Secondary。
// 典型组合是 Feast 在前、Redis 在后。
type FallbackSource struct {
	Primary   core.EmbeddingSource
	Secondary core.EmbeddingSource
	logger    zerolog.Logger
}

func NewFallbackSource(primary, secondary core.EmbeddingSource) *FallbackSource {
	return &FallbackSource{
		Primary:   primary,
		Secondary: secondary,
		logger:    logging.Component("feature"),
	}
}

func (f *FallbackSource) Name() string {
	return f.Primary.Name() + "|" + f.Secondary.Name()
}

func (f *FallbackSource) GetEmbedding(ctx context.Context, itemID int64) (*core.Embedding, error) {
	emb, err := f.Primary.GetEmbedding(ctx, itemID)
	if err == nil {
		return emb, nil
	}
	if !core.IsNotFound(err) {
		f.logger.Warn().Err(err).Str("source", f.Primary.Name()).Int64("post_id", itemID).Msg("primary embedding source failed")
	}
	return f.Secondary.GetEmbedding(ctx, itemID)
}

func (f *FallbackSource) BatchGetEmbeddings(ctx context.Context, itemIDs []int64) (map[int64]*core.Embedding, error) {
	out, err := f.Primary.BatchGetEmbeddings(ctx, itemIDs)
	if err != nil {
		f.logger.Warn().Err(err).Str("source", f.Primary.Name()).Int("posts", len(itemIDs)).Msg("primary embedding source failed")
		return f.Secondary.BatchGetEmbeddings(ctx, itemIDs)
	}
	var missing []int64
	for _, id := range itemIDs {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	rest, err := f.Secondary.BatchGetEmbeddings(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, emb := range rest {
		out[id] = emb
	}
	return out, nil
}

var _ core.EmbeddingSource = (*FallbackSource)(nil)
