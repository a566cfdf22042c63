// Package nn 是打分模型用到的最小神经网络层集合，基于 gonum 的稠密矩阵。
//
// 每个层都提供 Forward 与 Backward；Backward 只累加梯度到 Param.Grad，
// 由 Optimizer 统一更新参数。推理只读参数，可以并发调用 Forward。
package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param 是一个可训练参数及其梯度。
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam 创建 rows × cols 的零参数。
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Dims 返回参数形状。
func (p *Param) Dims() (int, int) { return p.Value.Dims() }

// ZeroGrad 清空梯度。
func (p *Param) ZeroGrad() { p.Grad.Zero() }

// Data 返回参数底层连续存储（行优先）。
func (p *Param) Data() []float64 { return p.Value.RawMatrix().Data }

// GradData 返回梯度底层连续存储（行优先）。
func (p *Param) GradData() []float64 { return p.Grad.RawMatrix().Data }

// InitNormal 用 N(0, std²) 初始化参数。
func (p *Param) InitNormal(rng *rand.Rand, std float64) {
	data := p.Data()
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
}

// InitUniform 用 U(-bound, bound) 初始化参数。
func (p *Param) InitUniform(rng *rand.Rand, bound float64) {
	data := p.Data()
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
}

// ZeroGrads 清空一组参数的梯度。
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
