package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// weightedSum 以 coef 为权重对 y 求和，其对 y 的梯度恰为 coef。
func weightedSum(y, coef *mat.Dense) float64 {
	var out mat.Dense
	out.MulElem(y, coef)
	return mat.Sum(&out)
}

func TestLinearGradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear("fc", 3, 2, rng)
	x := randomDense(rng, 4, 3)
	coef := randomDense(rng, 4, 2)

	l.Weight.ZeroGrad()
	l.Bias.ZeroGrad()
	gx := l.Backward(x, coef)

	const eps = 1e-6
	numeric := func(data []float64, i int) float64 {
		orig := data[i]
		data[i] = orig + eps
		up := weightedSum(l.Forward(x), coef)
		data[i] = orig - eps
		down := weightedSum(l.Forward(x), coef)
		data[i] = orig
		return (up - down) / (2 * eps)
	}

	for i := range l.Weight.Data() {
		assert.InDelta(t, numeric(l.Weight.Data(), i), l.Weight.GradData()[i], 1e-6, "weight[%d]", i)
	}
	for i := range l.Bias.Data() {
		assert.InDelta(t, numeric(l.Bias.Data(), i), l.Bias.GradData()[i], 1e-6, "bias[%d]", i)
	}
	xData := x.RawMatrix().Data
	gxData := gx.RawMatrix().Data
	for i := range xData {
		assert.InDelta(t, numeric(xData, i), gxData[i], 1e-6, "x[%d]", i)
	}
}

func TestReLU(t *testing.T) {
	pre := mat.NewDense(1, 4, []float64{-1, 0, 2, -3})
	assert.Equal(t, []float64{0, 0, 2, 0}, ReLU(pre).RawMatrix().Data)

	grad := mat.NewDense(1, 4, []float64{5, 5, 5, 5})
	assert.Equal(t, []float64{0, 0, 5, 0}, ReLUBackward(pre, grad).RawMatrix().Data)
}

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.InDelta(t, 1.0, Sigmoid(1000), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-1000), 1e-12)
	assert.False(t, math.IsNaN(Sigmoid(-1000)))
	assert.InDelta(t, 1-Sigmoid(2), Sigmoid(-2), 1e-15)
}

func TestBCELoss(t *testing.T) {
	assert.InDelta(t, math.Ln2, BCELoss([]float64{0.5}, []float64{1}), 1e-12)
	assert.InDelta(t, 100.0, BCELoss([]float64{0}, []float64{1}), 1e-9, "log(0) 被截断为 -100")
	assert.Equal(t, []float64{-0.25, 0.25}, BCEGradLogits([]float64{0.5, 0.5}, []float64{1, 0}))
}

func TestEmbedding(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	e := NewEmbedding("emb", 3, 2, rng)
	out := e.Forward([]int{2, 5, -1, 0})
	assert.Equal(t, e.Weight.Value.RawRowView(2), out.RawRowView(0))
	assert.Equal(t, []float64{0, 0}, out.RawRowView(1), "越界下标取零向量")
	assert.Equal(t, []float64{0, 0}, out.RawRowView(2))

	e.Weight.ZeroGrad()
	e.Backward([]int{1, 1, 7}, mat.NewDense(3, 2, []float64{1, 2, 3, 4, 9, 9}))
	assert.Equal(t, []float64{4, 6}, e.Weight.Grad.RawRowView(1))
	assert.Equal(t, []float64{0, 0}, e.Weight.Grad.RawRowView(0))
}

func TestConcatSplit(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})
	c := Concat(a, b)
	assert.Equal(t, []float64{1, 3, 4, 2, 5, 6}, c.RawMatrix().Data)

	parts := Split(c, 1, 2)
	require.Len(t, parts, 2)
	assert.True(t, mat.Equal(a, parts[0]))
	assert.True(t, mat.Equal(b, parts[1]))
}

func TestOptimizersMinimizeQuadratic(t *testing.T) {
	cases := []struct {
		name string
		opt  Optimizer
	}{
		{"adam", NewAdam(0.05, 0)},
		{"sgd", &SGD{LR: 0.1, Momentum: 0.5}},
		{"rmsprop", &RMSprop{LR: 0.01, Alpha: 0.99, Eps: 1e-8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewParam("w", 1, 1)
			p.Data()[0] = 5
			for i := 0; i < 2000; i++ {
				p.ZeroGrad()
				p.GradData()[0] = 2 * (p.Data()[0] - 1)
				tc.opt.Step([]*Param{p})
			}
			assert.InDelta(t, 1.0, p.Data()[0], 0.1)
		})
	}
}

func TestNewOptimizer(t *testing.T) {
	opt, err := NewOptimizer(OptimizerConfig{Name: "adam", AdamLR: 1e-3, L2Regularization: 1e-7})
	require.NoError(t, err)
	assert.Equal(t, "adam", opt.Name())
	assert.Equal(t, 1e-7, opt.(*Adam).WeightDecay)

	_, err = NewOptimizer(OptimizerConfig{Name: "lbfgs"})
	assert.Error(t, err)
}
