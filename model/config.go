package model

import (
	"github.com/rushteam/mmrec/core"
)

// Arch 是模型结构名。
type Arch string

const (
	ArchGMF     Arch = "gmf"     // 广义矩阵分解分支
	ArchMLP     Arch = "mlp"     // 深度分支
	ArchNeuMF   Arch = "neumf"   // 融合模型
	ArchMMNeuMF Arch = "mmneumf" // 多模态融合模型
)

// Config 是模型结构配置，随 checkpoint 一起保存，足以在线重建同构模型。
type Config struct {
	Arch     Arch `json:"arch" yaml:"arch" koanf:"arch"`
	NumUsers int  `json:"num_users" yaml:"num_users" koanf:"num_users"`
	NumItems int  `json:"num_items" yaml:"num_items" koanf:"num_items"`

	// LatentDim 供单分支模型（GMF / MLP）使用
	LatentDim    int `json:"latent_dim" yaml:"latent_dim" koanf:"latent_dim"`
	LatentDimMF  int `json:"latent_dim_mf" yaml:"latent_dim_mf" koanf:"latent_dim_mf"`
	LatentDimMLP int `json:"latent_dim_mlp" yaml:"latent_dim_mlp" koanf:"latent_dim_mlp"`

	// Layers 是深度分支各层宽度，Layers[0] 必须等于 2 × 用户/物品 embedding 维度
	Layers []int `json:"layers" yaml:"layers" koanf:"layers"`

	ImageFeatureDim int `json:"image_feature_dim" yaml:"image_feature_dim" koanf:"image_feature_dim"`
	TextFeatureDim  int `json:"text_feature_dim" yaml:"text_feature_dim" koanf:"text_feature_dim"`
	ImageEmbDim     int `json:"image_emb_dim" yaml:"image_emb_dim" koanf:"image_emb_dim"`
	TextEmbDim      int `json:"text_emb_dim" yaml:"text_emb_dim" koanf:"text_emb_dim"`

	WeightInitGaussian bool `json:"weight_init_gaussian" yaml:"weight_init_gaussian" koanf:"weight_init_gaussian"`
}

// DefaultConfig 返回生产使用的多模态融合模型配置（用户/物品数需由数据决定）。
func DefaultConfig() Config {
	return Config{
		Arch:               ArchMMNeuMF,
		LatentDim:          8,
		LatentDimMF:        8,
		LatentDimMLP:       8,
		Layers:             []int{16, 64, 32, 16, 8},
		ImageFeatureDim:    1024,
		TextFeatureDim:     768,
		ImageEmbDim:        16,
		TextEmbDim:         16,
		WeightInitGaussian: true,
	}
}

// Multimodal 表示该结构是否消费内容 embedding。
func (c Config) Multimodal() bool { return c.Arch == ArchMMNeuMF }

// DeepWidth 返回深度分支输出宽度。
func (c Config) DeepWidth() int { return c.Layers[len(c.Layers)-1] }

// Validate 校验结构配置。
func (c Config) Validate() error {
	if c.NumUsers <= 0 || c.NumItems <= 0 {
		return core.ConfigurationErrorf(core.ModuleModel, "model: num_users/num_items must be positive, got %d/%d", c.NumUsers, c.NumItems)
	}
	switch c.Arch {
	case ArchGMF:
		if c.LatentDim <= 0 {
			return core.ConfigurationErrorf(core.ModuleModel, "model: gmf latent_dim must be positive, got %d", c.LatentDim)
		}
		return nil
	case ArchMLP:
		if c.LatentDim <= 0 {
			return core.ConfigurationErrorf(core.ModuleModel, "model: mlp latent_dim must be positive, got %d", c.LatentDim)
		}
		return c.validateLayers(c.LatentDim)
	case ArchNeuMF, ArchMMNeuMF:
		if c.LatentDimMF <= 0 || c.LatentDimMLP <= 0 {
			return core.ConfigurationErrorf(core.ModuleModel, "model: latent_dim_mf/latent_dim_mlp must be positive, got %d/%d", c.LatentDimMF, c.LatentDimMLP)
		}
		if err := c.validateLayers(c.LatentDimMLP); err != nil {
			return err
		}
		if c.Arch == ArchMMNeuMF {
			if c.ImageFeatureDim <= 0 || c.TextFeatureDim <= 0 || c.ImageEmbDim <= 0 || c.TextEmbDim <= 0 {
				return core.ConfigurationErrorf(core.ModuleModel,
					"model: multimodal dims must be positive (image_feature_dim=%d text_feature_dim=%d image_emb_dim=%d text_emb_dim=%d)",
					c.ImageFeatureDim, c.TextFeatureDim, c.ImageEmbDim, c.TextEmbDim)
			}
			if len(c.Layers) < 2 {
				return core.ConfigurationError(core.ModuleModel, "model: mmneumf needs at least one hidden layer")
			}
		}
		return nil
	default:
		return core.ConfigurationErrorf(core.ModuleModel, "model: unknown arch %q", c.Arch)
	}
}

func (c Config) validateLayers(latent int) error {
	if len(c.Layers) == 0 {
		return core.ConfigurationError(core.ModuleModel, "model: layers must not be empty")
	}
	if c.Layers[0] != 2*latent {
		return core.ConfigurationErrorf(core.ModuleModel, "model: layers[0]=%d must equal 2*latent_dim=%d", c.Layers[0], 2*latent)
	}
	for i, w := range c.Layers {
		if w <= 0 {
			return core.ConfigurationErrorf(core.ModuleModel, "model: layers[%d]=%d must be positive", i, w)
		}
	}
	return nil
}
