package engine

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/mmrec/checkpoint"
	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/nn"
	"github.com/rushteam/mmrec/sample"
)

func TestRank(t *testing.T) {
	assert.Equal(t, 1, Rank(0.9, []float64{0.1, 0.2, 0.3}))
	assert.Equal(t, 3, Rank(0.5, []float64{0.6, 0.1, 0.7}))
	// 同分负样本排在正样本之前
	assert.Equal(t, 2, Rank(0.5, []float64{0.5, 0.1}))
	assert.Equal(t, 1, Rank(0.5, nil))
}

func TestMetron_Compute(t *testing.T) {
	// 两个用户，每人 3 个负样本
	data := &sample.EvalData{
		TestUsers:     []int{0, 1},
		TestItems:     []int{7, 8},
		NegativeUsers: []int{0, 0, 0, 1, 1, 1},
		NegativeItems: []int{1, 2, 3, 4, 5, 6},
	}
	neg := []float64{
		0.9, 0.1, 0.2, // 用户 0：正样本排第 2
		0.9, 0.8, 0.7, // 用户 1：正样本排第 4
	}
	test := []float64{0.5, 0.3}

	tests := []struct {
		name     string
		topK     int
		wantHR   float64
		wantNDCG float64
	}{
		{"k=1 无命中", 1, 0, 0},
		{"k=2 命中用户 0", 2, 0.5, (1 / math.Log2(3)) / 2},
		{"k=10 全部命中", 10, 1, (1/math.Log2(3) + 1/math.Log2(5)) / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Metron{TopK: tt.topK}.Compute(data, test, neg)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantHR, res.HitRatio, 1e-12)
			assert.InDelta(t, tt.wantNDCG, res.NDCG, 1e-12)
			assert.LessOrEqual(t, res.NDCG, res.HitRatio)
			assert.Equal(t, 2, res.Users)
		})
	}
}

func TestMetron_PositiveFirstIsRankOne(t *testing.T) {
	data := &sample.EvalData{TestUsers: []int{0}, TestItems: []int{1}, NegativeUsers: []int{0}, NegativeItems: []int{2}}
	res, err := Metron{TopK: 10}.Compute(data, []float64{0.8}, []float64{0.2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.HitRatio)
	assert.Equal(t, 1.0, res.NDCG)
}

func TestMetron_Mismatch(t *testing.T) {
	data := &sample.EvalData{TestUsers: []int{0}, TestItems: []int{1}, NegativeUsers: []int{0}, NegativeItems: []int{2}}
	_, err := Metron{TopK: 10}.Compute(data, []float64{0.8}, nil)
	assert.True(t, core.IsDataIntegrity(err))
}

func TestEngine_ModelNotSet(t *testing.T) {
	ctx := context.Background()
	e := New(nil, WithLogger(zerolog.Nop()))

	_, err := e.TrainSingleBatch(&sample.Batch{Users: []int{0}, Items: []int{0}, Ratings: []float64{1}})
	assert.ErrorIs(t, err, core.ErrModelNotSet)
	_, err = e.TrainAnEpoch(ctx, &sample.Loader{}, 0)
	assert.ErrorIs(t, err, core.ErrModelNotSet)
	_, err = e.Evaluate(ctx, &sample.EvalData{}, 0)
	assert.ErrorIs(t, err, core.ErrModelNotSet)
	_, err = e.Save(ctx, "gmf", 0, 0, 0)
	assert.ErrorIs(t, err, core.ErrModelNotSet)
	assert.True(t, core.IsConfiguration(err))
}

func gmfConfig() model.Config {
	return model.Config{
		Arch:        model.ArchGMF,
		NumUsers:    4,
		NumItems:    6,
		LatentDim:   4,
		LatentDimMF: 4,
		Layers:      []int{8, 4},
	}
}

func TestTrainSingleBatch_LossDecreases(t *testing.T) {
	m, err := model.New(gmfConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	e := New(m, WithOptimizer(nn.NewAdam(0.05, 0)), WithLogger(zerolog.Nop()))

	b := &sample.Batch{
		Users:   []int{0, 0, 1, 1, 2, 3},
		Items:   []int{1, 2, 3, 4, 5, 0},
		Ratings: []float64{1, 0, 1, 0, 1, 0},
	}
	first, err := e.TrainSingleBatch(b)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 200; i++ {
		last, err = e.TrainSingleBatch(b)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)
	assert.Less(t, last, 0.2)
}

func TestTrainSingleBatch_NonFiniteLoss(t *testing.T) {
	m, err := model.New(gmfConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	var bias *nn.Param
	for _, p := range m.Params() {
		if p.Name == "affine_output.bias" {
			bias = p
		}
	}
	require.NotNil(t, bias)
	bias.Data()[0] = math.NaN()

	before := model.StateOf(m)
	e := New(m, WithLogger(zerolog.Nop()))
	_, err = e.TrainSingleBatch(&sample.Batch{Users: []int{0}, Items: []int{1}, Ratings: []float64{1}})
	require.Error(t, err)
	assert.True(t, core.IsNumerical(err))

	// 参数未被更新
	after := model.StateOf(m)
	for name, tensor := range before {
		if name == "affine_output.bias" {
			continue
		}
		assert.Equal(t, tensor.Data, after[name].Data, name)
	}
}

type fixture struct {
	gen   *sample.Generator
	table *core.FeatureTable
	cfg   model.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	rows, table := sample.Simulate(rand.New(rand.NewSource(7)), sample.SimulateConfig{
		NumUsers: 20, NumItems: 60, NumRecords: 200, ImageDim: 6, TextDim: 4,
	})
	gen, err := sample.NewGenerator(rows, sample.WithSeed(3), sample.WithEvalNegatives(20))
	require.NoError(t, err)
	return fixture{
		gen:   gen,
		table: table,
		cfg: model.Config{
			Arch:               model.ArchMMNeuMF,
			NumUsers:           gen.NumUsers(),
			NumItems:           gen.NumItems(),
			LatentDimMF:        4,
			LatentDimMLP:       4,
			Layers:             []int{8, 8, 4},
			ImageFeatureDim:    6,
			TextFeatureDim:     4,
			ImageEmbDim:        3,
			TextEmbDim:         2,
			WeightInitGaussian: true,
		},
	}
}

func TestEvaluate_BatchedMatchesSinglePass(t *testing.T) {
	f := newFixture(t)
	m, err := model.New(f.cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	data := f.gen.EvaluateData()

	single := New(m, WithFeatures(f.table), WithLogger(zerolog.Nop()))
	batched := New(m, WithFeatures(f.table), WithBatchedEval(7, 3), WithLogger(zerolog.Nop()))

	want, err := single.Evaluate(context.Background(), data, 0)
	require.NoError(t, err)
	got, err := batched.Evaluate(context.Background(), data, 0)
	require.NoError(t, err)

	assert.InDelta(t, want.HitRatio, got.HitRatio, 1e-9)
	assert.InDelta(t, want.NDCG, got.NDCG, 1e-9)
	assert.Equal(t, 20, got.Users)
	assert.GreaterOrEqual(t, got.HitRatio, 0.0)
	assert.LessOrEqual(t, got.HitRatio, 1.0)
	assert.LessOrEqual(t, got.NDCG, got.HitRatio)
}

func TestEvaluate_MultimodalNeedsFeatures(t *testing.T) {
	f := newFixture(t)
	m, err := model.New(f.cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	e := New(m, WithLogger(zerolog.Nop()))
	_, err = e.Evaluate(context.Background(), f.gen.EvaluateData(), 0)
	assert.True(t, core.IsConfiguration(err))
}

func TestTrain_FeatureDimMismatch(t *testing.T) {
	f := newFixture(t)
	m, err := model.New(f.cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	bad := &core.FeatureTable{Image: make([][]float64, len(f.table.Image)), Text: f.table.Text}
	for i := range bad.Image {
		bad.Image[i] = make([]float64, 5)
	}
	e := New(m, WithFeatures(bad), WithLogger(zerolog.Nop()))
	_, err = e.TrainSingleBatch(&sample.Batch{Users: []int{0}, Items: []int{0}, Ratings: []float64{1}})
	assert.True(t, core.IsDataIntegrity(err))
}

func TestSave_NoStore(t *testing.T) {
	m, err := model.New(gmfConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	_, err = New(m, WithLogger(zerolog.Nop())).Save(context.Background(), "gmf", 0, 0.5, 0.3)
	assert.True(t, core.IsConfiguration(err))
}

type recordingReporter struct {
	reports []EpochReport
}

func (r *recordingReporter) ReportEpoch(_ context.Context, rep EpochReport) {
	r.reports = append(r.reports, rep)
}

func TestFit(t *testing.T) {
	f := newFixture(t)
	m, err := model.New(f.cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg, err := checkpoint.OpenRegistry("")
	require.NoError(t, err)
	defer reg.Close()

	rec := &recordingReporter{}
	idMap := core.NewIDMap([]int64{10, 20}, []int64{100})
	e := New(m,
		WithFeatures(f.table),
		WithCheckpointStore(store),
		WithRegistry(reg),
		WithIDMap(idMap),
		WithRunID("run-1"),
		WithOptimizer(nn.NewAdam(1e-2, 0)),
		WithReporter(Reporters{rec, PrometheusReporter{}}),
		WithLogger(zerolog.Nop()),
	)

	res, err := e.Fit(context.Background(), f.gen, FitConfig{Alias: "mmneumf", NumEpoch: 3, BatchSize: 32, NumNegative: 2})
	require.NoError(t, err)
	require.Len(t, res.Epochs, 3)
	require.Len(t, rec.reports, 3)
	assert.Equal(t, StateIdle, e.State())

	for i, rep := range res.Epochs {
		assert.Equal(t, i, rep.Epoch)
		assert.Greater(t, rep.Loss, 0.0)
		assert.Equal(t, checkpoint.Key("mmneumf", i, rep.HitRatio, rep.NDCG), rep.Checkpoint)
		assert.False(t, betterEpoch(rep, res.Best), "best 应不劣于每一轮")
	}

	keys, err := store.List(context.Background(), "mmneumf_")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	best, err := reg.Best("mmneumf")
	require.NoError(t, err)
	assert.Equal(t, res.Best.Checkpoint, best.Key)

	// 制品可还原出打分一致的模型，并带上 IDMap 与 run ID
	c, err := checkpoint.Load(context.Background(), store, res.Epochs[2].Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, "run-1", c.RunID)
	assert.Equal(t, idMap.Users, c.IDMap.Users)
	restored, err := c.Restore()
	require.NoError(t, err)

	data := f.gen.EvaluateData()
	want, err := e.Evaluate(context.Background(), data, 3)
	require.NoError(t, err)
	got, err := New(restored, WithFeatures(f.table), WithLogger(zerolog.Nop())).Evaluate(context.Background(), data, 3)
	require.NoError(t, err)
	assert.InDelta(t, want.HitRatio, got.HitRatio, 1e-12)
	assert.InDelta(t, want.NDCG, got.NDCG, 1e-12)
}

func TestFit_SkipsSaveWithoutStore(t *testing.T) {
	f := newFixture(t)
	m, err := model.New(f.cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	e := New(m, WithFeatures(f.table), WithLogger(zerolog.Nop()))

	res, err := e.Fit(context.Background(), f.gen, FitConfig{NumEpoch: 1, BatchSize: 64, NumNegative: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Best.Checkpoint)
	assert.Equal(t, "model", res.Best.Alias)

	_, err = e.Fit(context.Background(), f.gen, FitConfig{NumEpoch: 0})
	assert.True(t, core.IsConfiguration(err))
}

func TestFit_Canceled(t *testing.T) {
	f := newFixture(t)
	m, err := model.New(f.cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(m, WithFeatures(f.table), WithLogger(zerolog.Nop())).
		Fit(ctx, f.gen, FitConfig{NumEpoch: 1, BatchSize: 16, NumNegative: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "training_epoch", StateTrainingEpoch.String())
	assert.Equal(t, "evaluating", StateEvaluating.String())
	assert.Equal(t, "checkpointed", StateCheckpointed.String())
}
