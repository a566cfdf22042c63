package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/nn"
)

// tower 是深度分支的全连接层栈，层间使用 ReLU。
type tower struct {
	layers []*nn.Linear
}

// newTower 创建 in → widths[0] → widths[1] ... 的层栈。
func newTower(in int, widths []int, rng *rand.Rand) *tower {
	t := &tower{}
	for i, w := range widths {
		t.layers = append(t.layers, nn.NewLinear(fmt.Sprintf("fc_layers.%d", i), in, w, rng))
		in = w
	}
	return t
}

// forward 返回输出以及把输出梯度映射回输入梯度的闭包。
func (t *tower) forward(x *mat.Dense) (*mat.Dense, func(*mat.Dense) *mat.Dense) {
	inputs := make([]*mat.Dense, len(t.layers))
	pres := make([]*mat.Dense, len(t.layers))
	h := x
	for i, l := range t.layers {
		inputs[i] = h
		pres[i] = l.Forward(h)
		h = nn.ReLU(pres[i])
	}
	back := func(g *mat.Dense) *mat.Dense {
		for i := len(t.layers) - 1; i >= 0; i-- {
			g = nn.ReLUBackward(pres[i], g)
			g = t.layers[i].Backward(inputs[i], g)
		}
		return g
	}
	return h, back
}

func (t *tower) params() []*nn.Param {
	var ps []*nn.Param
	for _, l := range t.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// gaussianInit 把 embedding 与全连接权重改为 N(0, 0.01²)，偏置保持默认初始化。
func gaussianInit(rng *rand.Rand, embs []*nn.Embedding, linears []*nn.Linear) {
	const std = 0.01
	for _, e := range embs {
		e.Weight.InitNormal(rng, std)
	}
	for _, l := range linears {
		l.Weight.InitNormal(rng, std)
	}
}
