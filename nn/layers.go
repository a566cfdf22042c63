package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Embedding 是 num × dim 的查找表。
type Embedding struct {
	Weight *Param
	Num    int
	Dim    int
}

// NewEmbedding 创建查找表，权重按 N(0, 1) 初始化。
func NewEmbedding(name string, num, dim int, rng *rand.Rand) *Embedding {
	e := &Embedding{Weight: NewParam(name+".weight", num, dim), Num: num, Dim: dim}
	e.Weight.InitNormal(rng, 1)
	return e
}

// Forward 按下标取行；下标越界时取零向量（在线服务中训练期未见过的 item）。
func (e *Embedding) Forward(idx []int) *mat.Dense {
	out := mat.NewDense(len(idx), e.Dim, nil)
	for r, id := range idx {
		if id < 0 || id >= e.Num {
			continue
		}
		out.SetRow(r, e.Weight.Value.RawRowView(id))
	}
	return out
}

// Backward 把输出梯度累加回对应的行。
func (e *Embedding) Backward(idx []int, grad *mat.Dense) {
	for r, id := range idx {
		if id < 0 || id >= e.Num {
			continue
		}
		dst := e.Weight.Grad.RawRowView(id)
		src := grad.RawRowView(r)
		for j := range dst {
			dst[j] += src[j]
		}
	}
}

// Linear 是全连接层 y = x·Wᵀ + b，W 形状为 out × in。
type Linear struct {
	Weight *Param
	Bias   *Param
	In     int
	Out    int
}

// NewLinear 创建全连接层，权重与偏置按 U(-1/√in, 1/√in) 初始化。
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		Weight: NewParam(name+".weight", out, in),
		Bias:   NewParam(name+".bias", 1, out),
		In:     in,
		Out:    out,
	}
	bound := 1 / math.Sqrt(float64(in))
	l.Weight.InitUniform(rng, bound)
	l.Bias.InitUniform(rng, bound)
	return l
}

// Forward 计算 batch × out 的输出。
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Mul(x, l.Weight.Value.T())
	bias := l.Bias.Value.RawRowView(0)
	rows, _ := y.Dims()
	for r := 0; r < rows; r++ {
		row := y.RawRowView(r)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return &y
}

// Backward 累加 W、b 的梯度并返回对输入的梯度。x 是前向时的输入。
func (l *Linear) Backward(x, gradOut *mat.Dense) *mat.Dense {
	var gw mat.Dense
	gw.Mul(gradOut.T(), x)
	l.Weight.Grad.Add(l.Weight.Grad, &gw)

	gb := l.Bias.Grad.RawRowView(0)
	rows, _ := gradOut.Dims()
	for r := 0; r < rows; r++ {
		row := gradOut.RawRowView(r)
		for j := range gb {
			gb[j] += row[j]
		}
	}

	var gx mat.Dense
	gx.Mul(gradOut, l.Weight.Value)
	return &gx
}

// Params 返回层参数。
func (l *Linear) Params() []*Param { return []*Param{l.Weight, l.Bias} }

// ReLU 返回 max(0, x) 的新矩阵。
func ReLU(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, x)
	return &out
}

// ReLUBackward 根据前向输入 pre 计算 ReLU 的输入梯度。
func ReLUBackward(pre, grad *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, j int, g float64) float64 {
		if pre.At(i, j) > 0 {
			return g
		}
		return 0
	}, grad)
	return &out
}

// Sigmoid 是逻辑函数。
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	z := math.Exp(x)
	return z / (1 + z)
}

// Concat 横向拼接若干同行数矩阵。
func Concat(parts ...*mat.Dense) *mat.Dense {
	rows, _ := parts[0].Dims()
	total := 0
	for _, p := range parts {
		_, c := p.Dims()
		total += c
	}
	out := mat.NewDense(rows, total, nil)
	for r := 0; r < rows; r++ {
		dst := out.RawRowView(r)
		off := 0
		for _, p := range parts {
			src := p.RawRowView(r)
			copy(dst[off:], src)
			off += len(src)
		}
	}
	return out
}

// Split 把横向拼接的梯度按列宽拆回各部分。
func Split(x *mat.Dense, widths ...int) []*mat.Dense {
	rows, _ := x.Dims()
	out := make([]*mat.Dense, len(widths))
	off := 0
	for i, w := range widths {
		out[i] = mat.DenseCopyOf(x.Slice(0, rows, off, off+w))
		off += w
	}
	return out
}

// Hadamard 返回逐元素乘积。
func Hadamard(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}
