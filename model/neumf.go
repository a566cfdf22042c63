package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/nn"
)

// NeuMF 是融合模型：sigmoid(linear(concat(MLP 分支输出, GMF 分支乘积)))。
// MF 与 MLP 两个分支各自维护独立的 user/item embedding 表。
//
// 设置 ImageProj / TextProj 后即为多模态融合模型：深度分支输入额外拼接
// 投影后的图像与文本 embedding，使训练期没有协同信号的帖子也能靠内容得到分数。
type NeuMF struct {
	cfg Config

	UserMLP *nn.Embedding
	ItemMLP *nn.Embedding
	UserMF  *nn.Embedding
	ItemMF  *nn.Embedding

	ImageProj *nn.Linear
	TextProj  *nn.Linear

	Tower  *tower
	Affine *nn.Linear
}

// NewNeuMF 创建融合模型；cfg.Arch 为 mmneumf 时创建多模态版本。cfg 需已通过 Validate。
func NewNeuMF(cfg Config, rng *rand.Rand) *NeuMF {
	m := &NeuMF{
		cfg:     cfg,
		UserMLP: nn.NewEmbedding("embedding_user_mlp", cfg.NumUsers, cfg.LatentDimMLP, rng),
		ItemMLP: nn.NewEmbedding("embedding_item_mlp", cfg.NumItems, cfg.LatentDimMLP, rng),
		UserMF:  nn.NewEmbedding("embedding_user_mf", cfg.NumUsers, cfg.LatentDimMF, rng),
		ItemMF:  nn.NewEmbedding("embedding_item_mf", cfg.NumItems, cfg.LatentDimMF, rng),
	}
	deepIn := cfg.Layers[0]
	if cfg.Multimodal() {
		m.ImageProj = nn.NewLinear("image_projection", cfg.ImageFeatureDim, cfg.ImageEmbDim, rng)
		m.TextProj = nn.NewLinear("text_projection", cfg.TextFeatureDim, cfg.TextEmbDim, rng)
		deepIn += cfg.ImageEmbDim + cfg.TextEmbDim
	}
	m.Tower = newTower(deepIn, cfg.Layers[1:], rng)
	m.Affine = nn.NewLinear("affine_output", cfg.DeepWidth()+cfg.LatentDimMF, 1, rng)

	if cfg.WeightInitGaussian {
		gaussianInit(rng, m.embeddings(), m.linears())
	}
	return m
}

func (m *NeuMF) Name() string   { return string(m.cfg.Arch) }
func (m *NeuMF) Config() Config { return m.cfg }

func (m *NeuMF) multimodal() bool { return m.ImageProj != nil }

func (m *NeuMF) embeddings() []*nn.Embedding {
	return []*nn.Embedding{m.UserMLP, m.ItemMLP, m.UserMF, m.ItemMF}
}

func (m *NeuMF) linears() []*nn.Linear {
	ls := append([]*nn.Linear{}, m.Tower.layers...)
	if m.multimodal() {
		ls = append(ls, m.ImageProj, m.TextProj)
	}
	return append(ls, m.Affine)
}

func (m *NeuMF) Params() []*nn.Param {
	var ps []*nn.Param
	for _, e := range m.embeddings() {
		ps = append(ps, e.Weight)
	}
	for _, l := range m.linears() {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (m *NeuMF) Forward(b *Batch) (*Output, error) {
	if err := b.check(m.cfg); err != nil {
		return nil, err
	}
	uMLP := m.UserMLP.Forward(b.Users)
	iMLP := m.ItemMLP.Forward(b.Items)
	uMF := m.UserMF.Forward(b.Users)
	iMF := m.ItemMF.Forward(b.Items)

	parts := []*mat.Dense{uMLP, iMLP}
	widths := []int{m.cfg.LatentDimMLP, m.cfg.LatentDimMLP}
	if m.multimodal() {
		parts = append(parts, m.ImageProj.Forward(b.Image), m.TextProj.Forward(b.Text))
		widths = append(widths, m.cfg.ImageEmbDim, m.cfg.TextEmbDim)
	}
	deep, towerBack := m.Tower.forward(nn.Concat(parts...))
	mf := nn.Hadamard(uMF, iMF)
	vec := nn.Concat(deep, mf)
	logits := m.Affine.Forward(vec)

	return newOutput(logits, func(d *mat.Dense) {
		g := nn.Split(m.Affine.Backward(vec, d), m.cfg.DeepWidth(), m.cfg.LatentDimMF)

		m.UserMF.Backward(b.Users, nn.Hadamard(g[1], iMF))
		m.ItemMF.Backward(b.Items, nn.Hadamard(g[1], uMF))

		gIn := nn.Split(towerBack(g[0]), widths...)
		m.UserMLP.Backward(b.Users, gIn[0])
		m.ItemMLP.Backward(b.Items, gIn[1])
		if m.multimodal() {
			m.ImageProj.Backward(b.Image, gIn[2])
			m.TextProj.Backward(b.Text, gIn[3])
		}
	}), nil
}
