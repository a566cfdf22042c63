package timeline

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/database"
	"github.com/rushteam/mmrec/feature"
	"github.com/rushteam/mmrec/pkg/utils"
	"github.com/rushteam/mmrec/store"
)

// 候选池不带特征列时，热用户打分使用 KV 中的 embedding，KV 缺失的帖子回落到关系库。
func TestTimeline_EmbeddingsFromConfiguredSource(t *testing.T) {
	ctx := context.Background()
	snap := snapshot(t)

	db, err := database.Open(database.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "timeline.db"), LogLevel: "silent"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, database.Migrate(db))
	require.NoError(t, db.Create([]database.Post{
		{PostID: 1, UserID: 9, ImageFeature: "[9,9,9]", TextFeature: "[9,9]", EmbeddedFlg: true, CreatedAt: base},
		{PostID: 2, UserID: 9, ImageFeature: "[9,9,9]", TextFeature: "[9,9]", EmbeddedFlg: true, CreatedAt: base.Add(time.Hour)},
		{PostID: 3, UserID: 9, ImageFeature: "[0.3,0.1,0.2]", TextFeature: "[0.4,0.5]", EmbeddedFlg: true, CreatedAt: base.Add(2 * time.Hour)},
	}).Error)

	kv := store.NewMemoryStore()
	defer kv.Close()
	stored := map[int64]*core.Embedding{
		1: {Image: []float64{0.1, 0.2, -0.3}, Text: []float64{0.5, -0.1}},
		2: {Image: []float64{-0.2, 0.4, 0.1}, Text: []float64{0.3, 0.3}},
	}
	for id, emb := range stored {
		data, err := json.Marshal(emb)
		require.NoError(t, err)
		require.NoError(t, kv.Set(ctx, feature.DefaultKeyPrefix+strconv.FormatInt(id, 10), data))
	}

	repo := database.NewCandidateRepository(db, database.SkipEmbeddings())
	r := newRanker(0, 0)
	r.Enrich = &feature.EnrichNode{
		Source:   feature.NewFallbackSource(feature.NewStoreSource(kv, ""), repo),
		ImageDim: 3,
		TextDim:  2,
	}

	res, err := r.Timeline(ctx, snap, Request{UserID: 1}, repo)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	got := make(map[int64]*core.Item, len(res.Items))
	for _, it := range res.Items {
		got[it.ID] = it
		lbl, ok := it.Labels[utils.LabelRankModel]
		require.True(t, ok, "post %d 未经过模型打分", it.ID)
		assert.Equal(t, snap.Model.Name(), lbl.Value)
		assert.Equal(t, "store.memory|database", it.Labels[utils.LabelEmbeddingSource].Value)
	}
	for id, emb := range stored {
		assert.Equal(t, emb.Image, got[id].ImageFeature, "post %d", id)
		assert.Equal(t, emb.Text, got[id].TextFeature, "post %d", id)
	}
	assert.Equal(t, []float64{0.3, 0.1, 0.2}, got[3].ImageFeature)

	// 分数与直接用这些向量打分一致
	direct := make([]*core.Item, 0, 3)
	for _, id := range []int64{1, 2, 3} {
		it := core.NewItem(id)
		it.CreatedAt = got[id].CreatedAt
		it.ImageFeature, it.TextFeature = got[id].ImageFeature, got[id].TextFeature
		direct = append(direct, it)
	}
	want, err := newRanker(0, 0).Rank(ctx, snap, Request{UserID: 1}, direct)
	require.NoError(t, err)
	require.Len(t, want.Items, 3)
	for _, it := range want.Items {
		assert.InDelta(t, it.Score, got[it.ID].Score, 1e-12, "post %d", it.ID)
	}
}
