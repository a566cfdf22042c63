package rank

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/model"
)

func TestPopularityNode(t *testing.T) {
	pop := 7.0
	a, b := core.NewItem(1), core.NewItem(2)
	a.Popularity = &pop

	out, err := (&PopularityNode{}).Process(context.Background(), &core.RecommendContext{}, []*core.Item{a, b})
	require.NoError(t, err)
	assert.Equal(t, 7.0, out[0].Score)
	assert.Equal(t, 0.0, out[1].Score)
	assert.Equal(t, "popularity", out[0].Labels["rank_model"].Value)
}

func TestModelNode_GMF(t *testing.T) {
	cfg := model.Config{Arch: model.ArchGMF, NumUsers: 3, NumItems: 4, LatentDim: 2}
	m, err := model.New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	snap := &model.Snapshot{Model: m}

	items := []*core.Item{core.NewItem(0), core.NewItem(3), core.NewItem(99)}
	out, err := (&ModelNode{Snapshot: snap}).Process(context.Background(), &core.RecommendContext{UserIndex: 1}, items)
	require.NoError(t, err)
	require.Len(t, out, 3)

	want, err := model.Predict(m, &model.Batch{Users: []int{1, 1}, Items: []int{0, 3}})
	require.NoError(t, err)
	assert.InDelta(t, want[0], out[0].Score, 1e-12)
	assert.InDelta(t, want[1], out[1].Score, 1e-12)
	// 未见过的帖子读零向量，仍然得到合法分数
	assert.True(t, out[2].Score >= 0 && out[2].Score <= 1)
}

func TestModelNode_Errors(t *testing.T) {
	_, err := (&ModelNode{}).Process(context.Background(), &core.RecommendContext{}, []*core.Item{core.NewItem(1)})
	assert.True(t, core.IsUnavailable(err))

	cfg := model.Config{Arch: model.ArchGMF, NumUsers: 3, NumItems: 4, LatentDim: 2}
	m, err := model.New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	_, err = (&ModelNode{Snapshot: &model.Snapshot{Model: m}}).
		Process(context.Background(), &core.RecommendContext{UserIndex: -1}, []*core.Item{core.NewItem(1)})
	assert.True(t, core.IsInvalidInput(err))
}
