package feature

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/store"
)

func emb(v float64) *core.Embedding {
	return &core.Embedding{Image: []float64{v, v, v}, Text: []float64{v, -v}}
}

func TestStoreSource(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defer kv.Close()
	src := NewStoreSource(kv, "")

	require.NoError(t, src.Put(ctx, 7, emb(0.5)))
	require.NoError(t, kv.Set(ctx, "post:emb:9", []byte("not json")))

	got, err := src.GetEmbedding(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, emb(0.5), got)

	_, err = src.GetEmbedding(ctx, 8)
	assert.True(t, core.IsNotFound(err))

	_, err = src.GetEmbedding(ctx, 9)
	assert.True(t, core.IsDataIntegrity(err))

	batch, err := src.BatchGetEmbeddings(ctx, []int64{7, 8})
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Contains(t, batch, int64(7))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(1, emb(1), 3, 2))
	assert.True(t, core.IsDataIntegrity(Validate(1, emb(1), 4, 2)))
	assert.True(t, core.IsDataIntegrity(Validate(1, nil, 3, 2)))
}

// countingSource 记录下层查询次数。
type countingSource struct {
	data  map[int64]*core.Embedding
	err   error
	calls atomic.Int32
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) GetEmbedding(_ context.Context, id int64) (*core.Embedding, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if e, ok := s.data[id]; ok {
		return e, nil
	}
	return nil, notFound(id)
}

func (s *countingSource) BatchGetEmbeddings(_ context.Context, ids []int64) (map[int64]*core.Embedding, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]*core.Embedding)
	for _, id := range ids {
		if e, ok := s.data[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	inner := &countingSource{data: map[int64]*core.Embedding{1: emb(1), 2: emb(2), 3: emb(3)}}
	c := NewCachedSource(inner, 2, time.Minute)
	defer c.Close()

	_, err := c.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	_, err = c.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	got, err := c.BatchGetEmbeddings(ctx, []int64{1, 2, 4})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), inner.calls.Load())

	// 容量为 2，写入第 3 个时淘汰一个
	_, err = c.GetEmbedding(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestFallbackSource(t *testing.T) {
	ctx := context.Background()
	primary := &countingSource{data: map[int64]*core.Embedding{1: emb(1)}}
	secondary := &countingSource{data: map[int64]*core.Embedding{1: emb(9), 2: emb(2)}}
	f := NewFallbackSource(primary, secondary)

	got, err := f.BatchGetEmbeddings(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, emb(1), got[1])
	assert.Equal(t, emb(2), got[2])
	assert.NotContains(t, got, int64(3))

	primary.err = errors.New("feast down")
	one, err := f.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, emb(9), one)
}

func TestEnrichNode(t *testing.T) {
	src := &countingSource{data: map[int64]*core.Embedding{2: emb(2)}}
	ready := core.NewItem(1)
	ready.ImageFeature, ready.TextFeature = emb(1).Image, emb(1).Text
	items := []*core.Item{ready, core.NewItem(2), core.NewItem(3)}

	node := &EnrichNode{Source: src, ImageDim: 3, TextDim: 2, BatchSize: 1}
	out, err := node.Process(context.Background(), &core.RecommendContext{}, items)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, int64(2), out[1].ID)
	assert.Equal(t, emb(2).Image, out[1].ImageFeature)
	assert.Equal(t, int32(2), src.calls.Load(), "两个缺失帖子按每块 1 个分两次查询")
}

func TestEnrichNode_DimMismatch(t *testing.T) {
	src := &countingSource{data: map[int64]*core.Embedding{1: {Image: []float64{1}, Text: []float64{1, 2}}}}
	node := &EnrichNode{Source: src, ImageDim: 3, TextDim: 2}
	_, err := node.Process(context.Background(), &core.RecommendContext{}, []*core.Item{core.NewItem(1)})
	assert.True(t, core.IsDataIntegrity(err))
}

func TestEnrichNode_SourceError(t *testing.T) {
	src := &countingSource{err: core.ExternalError(core.ModuleFeature, "redis", errors.New("timeout"))}
	node := &EnrichNode{Source: src}
	_, err := node.Process(context.Background(), &core.RecommendContext{}, []*core.Item{core.NewItem(1)})
	assert.True(t, core.IsExternal(err))
}

type fakeFeast struct {
	req *feastsdk.OnlineFeaturesRequest
	err error
}

func (f *fakeFeast) GetOnlineFeatures(_ context.Context, req *feastsdk.OnlineFeaturesRequest) (*feastsdk.OnlineFeaturesResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &feastsdk.OnlineFeaturesResponse{}, nil
}

func TestFeastSource(t *testing.T) {
	client := &fakeFeast{}
	src := NewFeastSourceFromClient(client, FeastConfig{
		Project:      "mmrec",
		ImageFeature: "post_embedding:image",
		TextFeature:  "post_embedding:text",
	})
	src.rows = func(*feastsdk.OnlineFeaturesResponse) []feastsdk.Row {
		return []feastsdk.Row{
			{
				"post_embedding:image": feastsdk.StrVal("[0.1, 0.2, 0.3]"),
				"text":                 feastsdk.StrVal("[0.4, 0.5]"),
			},
			{},
		}
	}

	got, err := src.BatchGetEmbeddings(context.Background(), []int64{11, 12})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got[11].Image)
	assert.Equal(t, []float64{0.4, 0.5}, got[11].Text)

	assert.Equal(t, "mmrec", client.req.Project)
	assert.Len(t, client.req.Entities, 2)
	assert.Equal(t, int64(11), client.req.Entities[0]["post_id"].GetInt64Val())

	_, err = src.GetEmbedding(context.Background(), 12)
	assert.Error(t, err)

	client.err = fmt.Errorf("unavailable")
	_, err = src.BatchGetEmbeddings(context.Background(), []int64{11})
	assert.True(t, core.IsExternal(err))
}

func TestFeastSource_CorruptVector(t *testing.T) {
	src := NewFeastSourceFromClient(&fakeFeast{}, FeastConfig{ImageFeature: "v:image", TextFeature: "v:text"})
	src.rows = func(*feastsdk.OnlineFeaturesResponse) []feastsdk.Row {
		return []feastsdk.Row{{"v:image": feastsdk.StrVal("oops"), "v:text": feastsdk.StrVal("[1]")}}
	}
	_, err := src.BatchGetEmbeddings(context.Background(), []int64{1})
	assert.True(t, core.IsDataIntegrity(err))
}
