// Package model 是打分模型族：GMF、MLP、NeuMF 以及多模态 NeuMF。
//
// 所有模型输入稠密的 user/item 下标（多模态模型另外输入图像与文本 embedding），
// 经最终 sigmoid 输出 [0, 1] 的交互概率。
package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/nn"
)

// Model 是打分模型的最小抽象。
//
// Forward 只读参数，可以被多个请求并发调用；
// 训练时由调用方串行地执行 Forward → Output.Backward → Optimizer.Step。
type Model interface {
	Name() string
	Config() Config
	Params() []*nn.Param
	Forward(b *Batch) (*Output, error)
}

// Batch 是一次前向的输入。Image / Text 仅多模态模型需要，行数与 Users 一致。
type Batch struct {
	Users []int
	Items []int
	Image *mat.Dense
	Text  *mat.Dense
}

// Len 返回批次行数。
func (b *Batch) Len() int { return len(b.Users) }

func (b *Batch) check(cfg Config) error {
	n := len(b.Users)
	if n == 0 {
		return core.InvalidInputErrorf(core.ModuleModel, "model: empty batch")
	}
	if len(b.Items) != n {
		return core.InvalidInputErrorf(core.ModuleModel, "model: %d users but %d items", n, len(b.Items))
	}
	if !cfg.Multimodal() {
		return nil
	}
	if err := checkFeature("image", b.Image, n, cfg.ImageFeatureDim); err != nil {
		return err
	}
	return checkFeature("text", b.Text, n, cfg.TextFeatureDim)
}

func checkFeature(kind string, m *mat.Dense, rows, dim int) error {
	if m == nil {
		return core.DataIntegrityErrorf(core.ModuleModel, "model: %s features missing", kind)
	}
	r, c := m.Dims()
	if r != rows || c != dim {
		return core.DataIntegrityErrorf(core.ModuleModel, "model: %s features are %dx%d, want %dx%d", kind, r, c, rows, dim)
	}
	return nil
}

// Output 是一次前向的结果。Scores = sigmoid(Logits)。
type Output struct {
	Logits   []float64
	Scores   []float64
	backward func(dLogits *mat.Dense)
}

func newOutput(logits *mat.Dense, backward func(*mat.Dense)) *Output {
	raw := mat.Col(nil, 0, logits)
	scores := make([]float64, len(raw))
	for i, z := range raw {
		scores[i] = nn.Sigmoid(z)
	}
	return &Output{Logits: raw, Scores: scores, backward: backward}
}

// Backward 把对 logit 的梯度反向传播，累加到各参数的 Grad。
func (o *Output) Backward(dLogits []float64) {
	o.backward(mat.NewDense(len(dLogits), 1, dLogits))
}

// CheckFinite 检查分数中是否出现 NaN/Inf。
func CheckFinite(scores []float64) error {
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return core.NumericalErrorf(core.ModuleModel, "model: non-finite score %v at row %d", s, i)
		}
	}
	return nil
}

// Predict 对一个批次打分并检查数值。
func Predict(m Model, b *Batch) ([]float64, error) {
	out, err := m.Forward(b)
	if err != nil {
		return nil, err
	}
	if err := CheckFinite(out.Scores); err != nil {
		return nil, err
	}
	return out.Scores, nil
}
