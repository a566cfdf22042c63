package model

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rushteam/mmrec/core"
)

// Tensor 是一个参数的序列化形式（行优先）。
type Tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// StateDict 是模型全部参数，key 为参数名。
type StateDict map[string]Tensor

// StateOf 深拷贝模型参数。
func StateOf(m Model) StateDict {
	sd := make(StateDict)
	for _, p := range m.Params() {
		r, c := p.Dims()
		data := make([]float64, len(p.Data()))
		copy(data, p.Data())
		sd[p.Name] = Tensor{Rows: r, Cols: c, Data: data}
	}
	return sd
}

// LoadState 把参数写回模型，名称与形状必须完全匹配。
func LoadState(m Model, sd StateDict) error {
	params := m.Params()
	if len(params) != len(sd) {
		return core.DataIntegrityErrorf(core.ModuleModel, "model: state has %d tensors, %s expects %d", len(sd), m.Name(), len(params))
	}
	for _, p := range params {
		t, ok := sd[p.Name]
		if !ok {
			return core.DataIntegrityErrorf(core.ModuleModel, "model: state is missing %q", p.Name)
		}
		r, c := p.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return core.DataIntegrityErrorf(core.ModuleModel, "model: %q is %dx%d (%d values), want %dx%d", p.Name, t.Rows, t.Cols, len(t.Data), r, c)
		}
	}
	for _, p := range params {
		copy(p.Data(), sd[p.Name].Data)
	}
	return nil
}

// New 按配置创建模型；rng 为 nil 时使用时间种子。
func New(cfg Config, rng *rand.Rand) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	switch cfg.Arch {
	case ArchGMF:
		return NewGMF(cfg, rng), nil
	case ArchMLP:
		return NewMLP(cfg, rng), nil
	case ArchNeuMF, ArchMMNeuMF:
		return NewNeuMF(cfg, rng), nil
	}
	return nil, fmt.Errorf("model: unreachable arch %q", cfg.Arch)
}

// Restore 按配置重建模型并载入参数。
func Restore(cfg Config, sd StateDict) (Model, error) {
	m, err := New(cfg, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	if err := LoadState(m, sd); err != nil {
		return nil, err
	}
	return m, nil
}
