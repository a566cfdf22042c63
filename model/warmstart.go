package model

import (
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/nn"
)

// FuseAffine 按 0.5 的权重融合两个预训练分支的输出层：
//
//	weight = 0.5 * concat(mlpW, mfW)
//	bias   = 0.5 * (mlpB + mfB)
//
// 输入为 1 × k 的行向量，拼接顺序与 NeuMF 的 concat(深度分支, MF 分支) 一致。
func FuseAffine(mlpW, mlpB, mfW, mfB *mat.Dense) (weight, bias *mat.Dense) {
	_, wa := mlpW.Dims()
	_, wb := mfW.Dims()
	weight = mat.NewDense(1, wa+wb, nil)
	for j := 0; j < wa; j++ {
		weight.Set(0, j, 0.5*mlpW.At(0, j))
	}
	for j := 0; j < wb; j++ {
		weight.Set(0, wa+j, 0.5*mfW.At(0, j))
	}
	bias = mat.NewDense(1, 1, []float64{0.5 * (mlpB.At(0, 0) + mfB.At(0, 0))})
	return weight, bias
}

// WarmStart 用独立预训练的 MLP 与 GMF 初始化一个新的融合模型。
//
// embedding 与深度分支各层的权重直接复制，各层 bias 保留新模型的初始化；输出层按 FuseAffine 融合。
// 多模态模型的第一层比 MLP 多出内容投影的输入列，只复制 ID 部分的列，
// 投影层与多出的列保持新模型自己的初始化。
func WarmStart(cfg Config, mlp *MLP, gmf *GMF, rng *rand.Rand) (*NeuMF, error) {
	if cfg.Arch != ArchNeuMF && cfg.Arch != ArchMMNeuMF {
		return nil, core.ConfigurationErrorf(core.ModuleModel, "model: warm start needs neumf or mmneumf, got %q", cfg.Arch)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkPretrained(cfg, mlp.Config(), gmf.Config()); err != nil {
		return nil, err
	}

	m := NewNeuMF(cfg, rng)
	copies := []paramCopy{
		{m.UserMLP.Weight, mlp.UserEmb.Weight},
		{m.ItemMLP.Weight, mlp.ItemEmb.Weight},
		{m.UserMF.Weight, gmf.UserEmb.Weight},
		{m.ItemMF.Weight, gmf.ItemEmb.Weight},
	}
	for i, l := range m.Tower.layers {
		src := mlp.Tower.layers[i]
		if i == 0 && m.multimodal() {
			copyLeftColumns(l.Weight.Value, src.Weight.Value)
			continue
		}
		copies = append(copies, paramCopy{l.Weight, src.Weight})
	}
	for _, c := range copies {
		c.dst.Value.Copy(c.src.Value)
	}

	w, b := FuseAffine(mlp.Affine.Weight.Value, mlp.Affine.Bias.Value, gmf.Affine.Weight.Value, gmf.Affine.Bias.Value)
	m.Affine.Weight.Value.Copy(w)
	m.Affine.Bias.Value.Copy(b)
	return m, nil
}

type paramCopy struct{ dst, src *nn.Param }

func copyLeftColumns(dst, src *mat.Dense) {
	rows, cols := src.Dims()
	for r := 0; r < rows; r++ {
		copy(dst.RawRowView(r)[:cols], src.RawRowView(r))
	}
}

func checkPretrained(cfg, mlp, gmf Config) error {
	switch {
	case mlp.Arch != ArchMLP || gmf.Arch != ArchGMF:
		return core.ConfigurationErrorf(core.ModuleModel, "model: warm start needs mlp+gmf, got %s+%s", mlp.Arch, gmf.Arch)
	case mlp.NumUsers != cfg.NumUsers || gmf.NumUsers != cfg.NumUsers:
		return core.ConfigurationErrorf(core.ModuleModel, "model: pretrained num_users %d/%d != %d", mlp.NumUsers, gmf.NumUsers, cfg.NumUsers)
	case mlp.NumItems != cfg.NumItems || gmf.NumItems != cfg.NumItems:
		return core.ConfigurationErrorf(core.ModuleModel, "model: pretrained num_items %d/%d != %d", mlp.NumItems, gmf.NumItems, cfg.NumItems)
	case mlp.LatentDim != cfg.LatentDimMLP:
		return core.ConfigurationErrorf(core.ModuleModel, "model: mlp latent_dim %d != latent_dim_mlp %d", mlp.LatentDim, cfg.LatentDimMLP)
	case gmf.LatentDim != cfg.LatentDimMF:
		return core.ConfigurationErrorf(core.ModuleModel, "model: gmf latent_dim %d != latent_dim_mf %d", gmf.LatentDim, cfg.LatentDimMF)
	case !slices.Equal(mlp.Layers, cfg.Layers):
		return core.ConfigurationErrorf(core.ModuleModel, "model: mlp layers %v != %v", mlp.Layers, cfg.Layers)
	}
	return nil
}
