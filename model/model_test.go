package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/nn"
)

func smallConfig(arch Arch) Config {
	return Config{
		Arch:            arch,
		NumUsers:        6,
		NumItems:        9,
		LatentDim:       4,
		LatentDimMF:     4,
		LatentDimMLP:    4,
		Layers:          []int{8, 6, 3},
		ImageFeatureDim: 5,
		TextFeatureDim:  3,
		ImageEmbDim:     2,
		TextEmbDim:      2,
	}
}

func randomBatch(rng *rand.Rand, cfg Config, n int) *Batch {
	b := &Batch{Users: make([]int, n), Items: make([]int, n)}
	for i := 0; i < n; i++ {
		b.Users[i] = rng.Intn(cfg.NumUsers)
		b.Items[i] = rng.Intn(cfg.NumItems)
	}
	if cfg.Multimodal() {
		b.Image = mat.NewDense(n, cfg.ImageFeatureDim, nil)
		b.Text = mat.NewDense(n, cfg.TextFeatureDim, nil)
		b.Image.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, b.Image)
		b.Text.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, b.Text)
	}
	return b
}

var allArchs = []Arch{ArchGMF, ArchMLP, ArchNeuMF, ArchMMNeuMF}

func TestForward_ScoresInUnitInterval(t *testing.T) {
	for _, arch := range allArchs {
		t.Run(string(arch), func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			cfg := smallConfig(arch)
			cfg.WeightInitGaussian = true
			m, err := New(cfg, rng)
			require.NoError(t, err)
			assert.Equal(t, string(arch), m.Name())

			scores, err := Predict(m, randomBatch(rng, cfg, 7))
			require.NoError(t, err)
			require.Len(t, scores, 7)
			for _, s := range scores {
				assert.True(t, s >= 0 && s <= 1, "score %v 应在 [0,1]", s)
			}
		})
	}
}

// TestBackward_GradientCheck 用有限差分校验每个结构的反向传播。
func TestBackward_GradientCheck(t *testing.T) {
	for _, arch := range allArchs {
		t.Run(string(arch), func(t *testing.T) {
			rng := rand.New(rand.NewSource(2))
			cfg := smallConfig(arch)
			m, err := New(cfg, rng)
			require.NoError(t, err)
			b := randomBatch(rng, cfg, 5)
			targets := []float64{1, 0, 0, 1, 0}

			loss := func() float64 {
				out, err := m.Forward(b)
				require.NoError(t, err)
				return nn.BCELoss(out.Scores, targets)
			}

			nn.ZeroGrads(m.Params())
			out, err := m.Forward(b)
			require.NoError(t, err)
			out.Backward(nn.BCEGradLogits(out.Scores, targets))

			const eps = 1e-6
			for _, p := range m.Params() {
				data, grad := p.Data(), p.GradData()
				for _, i := range []int{0, len(data) / 2, len(data) - 1} {
					orig := data[i]
					data[i] = orig + eps
					up := loss()
					data[i] = orig - eps
					down := loss()
					data[i] = orig
					assert.InDelta(t, (up-down)/(2*eps), grad[i], 1e-6, "%s[%d]", p.Name, i)
				}
			}
		})
	}
}

func TestFuseAffine(t *testing.T) {
	mlpW := mat.NewDense(1, 3, []float64{0.2, -0.4, 1})
	mfW := mat.NewDense(1, 2, []float64{0.6, 0.8})
	mlpB := mat.NewDense(1, 1, []float64{0.3})
	mfB := mat.NewDense(1, 1, []float64{-0.7})

	w, b := FuseAffine(mlpW, mlpB, mfW, mfB)
	assert.Equal(t, []float64{0.1, -0.2, 0.5, 0.3, 0.4}, w.RawMatrix().Data)
	assert.Equal(t, 0.5*(0.3+-0.7), b.At(0, 0))
}

func TestWarmStart(t *testing.T) {
	for _, arch := range []Arch{ArchNeuMF, ArchMMNeuMF} {
		t.Run(string(arch), func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			cfg := smallConfig(arch)

			mlpCfg := cfg
			mlpCfg.Arch = ArchMLP
			gmfCfg := cfg
			gmfCfg.Arch = ArchGMF
			mlp := NewMLP(mlpCfg, rng)
			gmf := NewGMF(gmfCfg, rng)
			for _, l := range mlp.Tower.layers {
				for i := range l.Bias.Data() {
					l.Bias.Data()[i] = 7
				}
			}

			m, err := WarmStart(cfg, mlp, gmf, rng)
			require.NoError(t, err)

			wantBias := 0.5 * (mlp.Affine.Bias.Value.At(0, 0) + gmf.Affine.Bias.Value.At(0, 0))
			assert.Equal(t, wantBias, m.Affine.Bias.Value.At(0, 0))
			assert.True(t, mat.Equal(m.UserMLP.Weight.Value, mlp.UserEmb.Weight.Value))
			assert.True(t, mat.Equal(m.ItemMF.Weight.Value, gmf.ItemEmb.Weight.Value))
			assert.True(t, mat.Equal(m.Tower.layers[1].Weight.Value, mlp.Tower.layers[1].Weight.Value))

			first := m.Tower.layers[0].Weight.Value
			src := mlp.Tower.layers[0].Weight.Value
			_, srcCols := src.Dims()
			assert.Equal(t, src.RawRowView(0), first.RawRowView(0)[:srcCols])

			assert.Equal(t, 0.5*gmf.Affine.Weight.Value.At(0, 0), m.Affine.Weight.Value.At(0, cfg.DeepWidth()))

			// 深度分支只复制权重，bias 保留新模型的初始化
			for i, l := range m.Tower.layers {
				assert.NotContains(t, l.Bias.Data(), 7.0, "fc_layers.%d.bias", i)
			}

			// 复制是深拷贝：训练新模型不影响预训练模型
			m.UserMF.Weight.Data()[0] += 1
			assert.NotEqual(t, m.UserMF.Weight.Data()[0], gmf.UserEmb.Weight.Data()[0])
		})
	}
}

func TestWarmStart_Mismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	cfg := smallConfig(ArchNeuMF)
	mlpCfg := cfg
	mlpCfg.Arch = ArchMLP
	gmfCfg := cfg
	gmfCfg.Arch = ArchGMF
	gmfCfg.LatentDim = 2

	_, err := WarmStart(cfg, NewMLP(mlpCfg, rng), NewGMF(gmfCfg, rng), rng)
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))

	_, err = WarmStart(smallConfig(ArchGMF), NewMLP(mlpCfg, rng), NewGMF(gmfCfg, rng), rng)
	assert.True(t, core.IsConfiguration(err))
}

func TestStateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	cfg := smallConfig(ArchMMNeuMF)
	m, err := New(cfg, rng)
	require.NoError(t, err)
	b := randomBatch(rng, cfg, 4)

	before, err := Predict(m, b)
	require.NoError(t, err)

	restored, err := Restore(cfg, StateOf(m))
	require.NoError(t, err)
	after, err := Predict(restored, b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, before, after, 1e-12)
}

func TestLoadState_Mismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	m, err := New(smallConfig(ArchGMF), rng)
	require.NoError(t, err)

	sd := StateOf(m)
	bad := sd["embedding_user.weight"]
	bad.Rows++
	sd["embedding_user.weight"] = bad
	err = LoadState(m, sd)
	require.Error(t, err)
	assert.True(t, core.IsDataIntegrity(err))

	err = LoadState(m, StateDict{})
	assert.True(t, core.IsDataIntegrity(err))
}

func TestForward_FeatureDimensionMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cfg := smallConfig(ArchMMNeuMF)
	m, err := New(cfg, rng)
	require.NoError(t, err)

	b := randomBatch(rng, cfg, 3)
	b.Image = mat.NewDense(3, cfg.ImageFeatureDim+1, nil)
	_, err = m.Forward(b)
	require.Error(t, err)
	assert.True(t, core.IsDataIntegrity(err))

	b.Image = nil
	_, err = m.Forward(b)
	assert.True(t, core.IsDataIntegrity(err))
}

func TestForward_UnknownItemUsesContent(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	cfg := smallConfig(ArchMMNeuMF)
	m, err := New(cfg, rng)
	require.NoError(t, err)

	b := randomBatch(rng, cfg, 2)
	b.Users = []int{0, 0}
	b.Items = []int{-1, -1}
	scores, err := Predict(m, b)
	require.NoError(t, err)
	assert.NotEqual(t, scores[0], scores[1], "同一用户、不同内容的未知帖子分数应不同")
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"no users", func(c *Config) { c.NumUsers = 0 }, false},
		{"bad first layer", func(c *Config) { c.Layers = []int{10, 4} }, false},
		{"unknown arch", func(c *Config) { c.Arch = "wide_deep" }, false},
		{"no projection", func(c *Config) { c.ImageEmbDim = 0 }, false},
		{"no hidden layer", func(c *Config) { c.Layers = []int{16} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.NumUsers, cfg.NumItems = 10, 20
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, core.IsConfiguration(err), "err=%v", err)
		})
	}
}

func TestHandle(t *testing.T) {
	h := NewHandle()
	assert.Nil(t, h.Load())

	m, err := New(smallConfig(ArchGMF), rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	s1 := &Snapshot{Model: m, Version: "v1"}
	assert.Nil(t, h.Swap(s1))
	assert.Same(t, s1, h.Load())

	s2 := &Snapshot{Model: m, Version: "v2", IDMap: core.NewIDMap([]int64{42, 7}, []int64{100})}
	assert.Same(t, s1, h.Swap(s2))
	assert.Equal(t, "v2", h.Load().Version)
	assert.Equal(t, 1, h.Load().UserIndex(42))
	assert.Equal(t, -1, h.Load().UserIndex(8))
	assert.Equal(t, 0, h.Load().ItemIndex(100))
	assert.Equal(t, 5, s1.UserIndex(5))
	assert.Equal(t, -1, s1.UserIndex(6), "无映射时 user_id >= num_users 视为冷启动")
}
