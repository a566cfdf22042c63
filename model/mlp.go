package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/nn"
)

// MLP 是深度分支：sigmoid(linear(MLP(concat(u, i))))。
//
// 工程特征：
//   - 计算复杂度：中等（多层全连接）
//   - 特征交互：强（自动学习 user/item 的非线性交互）
//   - 用途：单独训练后作为 NeuMF 的预训练分支
type MLP struct {
	cfg     Config
	UserEmb *nn.Embedding
	ItemEmb *nn.Embedding
	Tower   *tower
	Affine  *nn.Linear
}

// NewMLP 创建 MLP，cfg 需已通过 Validate。
func NewMLP(cfg Config, rng *rand.Rand) *MLP {
	m := &MLP{
		cfg:     cfg,
		UserEmb: nn.NewEmbedding("embedding_user", cfg.NumUsers, cfg.LatentDim, rng),
		ItemEmb: nn.NewEmbedding("embedding_item", cfg.NumItems, cfg.LatentDim, rng),
		Tower:   newTower(cfg.Layers[0], cfg.Layers[1:], rng),
		Affine:  nn.NewLinear("affine_output", cfg.DeepWidth(), 1, rng),
	}
	if cfg.WeightInitGaussian {
		linears := append(append([]*nn.Linear{}, m.Tower.layers...), m.Affine)
		gaussianInit(rng, []*nn.Embedding{m.UserEmb, m.ItemEmb}, linears)
	}
	return m
}

func (m *MLP) Name() string   { return string(ArchMLP) }
func (m *MLP) Config() Config { return m.cfg }

func (m *MLP) Params() []*nn.Param {
	ps := []*nn.Param{m.UserEmb.Weight, m.ItemEmb.Weight}
	ps = append(ps, m.Tower.params()...)
	return append(ps, m.Affine.Weight, m.Affine.Bias)
}

func (m *MLP) Forward(b *Batch) (*Output, error) {
	if err := b.check(m.cfg); err != nil {
		return nil, err
	}
	u := m.UserEmb.Forward(b.Users)
	i := m.ItemEmb.Forward(b.Items)
	h, towerBack := m.Tower.forward(nn.Concat(u, i))
	logits := m.Affine.Forward(h)

	return newOutput(logits, func(d *mat.Dense) {
		g := towerBack(m.Affine.Backward(h, d))
		parts := nn.Split(g, m.cfg.LatentDim, m.cfg.LatentDim)
		m.UserEmb.Backward(b.Users, parts[0])
		m.ItemEmb.Backward(b.Items, parts[1])
	}), nil
}
