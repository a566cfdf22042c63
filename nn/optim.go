package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Optimizer 根据累加好的梯度更新参数。
type Optimizer interface {
	Name() string
	Step(params []*Param)
}

// OptimizerConfig 是优化器参数，字段与训练配置一一对应。
type OptimizerConfig struct {
	Name             string  `json:"optimizer" yaml:"optimizer" koanf:"optimizer"`
	AdamLR           float64 `json:"adam_lr" yaml:"adam_lr" koanf:"adam_lr"`
	SGDLR            float64 `json:"sgd_lr" yaml:"sgd_lr" koanf:"sgd_lr"`
	SGDMomentum      float64 `json:"sgd_momentum" yaml:"sgd_momentum" koanf:"sgd_momentum"`
	RMSpropLR        float64 `json:"rmsprop_lr" yaml:"rmsprop_lr" koanf:"rmsprop_lr"`
	RMSpropAlpha     float64 `json:"rmsprop_alpha" yaml:"rmsprop_alpha" koanf:"rmsprop_alpha"`
	RMSpropMomentum  float64 `json:"rmsprop_momentum" yaml:"rmsprop_momentum" koanf:"rmsprop_momentum"`
	L2Regularization float64 `json:"l2_regularization" yaml:"l2_regularization" koanf:"l2_regularization"`
}

// NewOptimizer 按名称创建优化器：sgd / adam / rmsprop。
func NewOptimizer(cfg OptimizerConfig) (Optimizer, error) {
	switch cfg.Name {
	case "", "adam":
		return NewAdam(cfg.AdamLR, cfg.L2Regularization), nil
	case "sgd":
		return &SGD{LR: cfg.SGDLR, Momentum: cfg.SGDMomentum, WeightDecay: cfg.L2Regularization}, nil
	case "rmsprop":
		return &RMSprop{LR: cfg.RMSpropLR, Alpha: cfg.RMSpropAlpha, Momentum: cfg.RMSpropMomentum, Eps: 1e-8}, nil
	default:
		return nil, fmt.Errorf("nn: unknown optimizer %q", cfg.Name)
	}
}

// state 为每个参数保存一份与之同形的缓冲区。
type state map[*Param]*mat.Dense

func (s state) of(p *Param) []float64 {
	buf, ok := s[p]
	if !ok {
		r, c := p.Dims()
		buf = mat.NewDense(r, c, nil)
		s[p] = buf
	}
	return buf.RawMatrix().Data
}

// Adam 优化器，WeightDecay 以 L2 项加到梯度上。
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    state
	v    state
}

func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(state),
		v:           make(state),
	}
}

func (a *Adam) Name() string { return "adam" }

func (a *Adam) Step(params []*Param) {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params {
		w, g := p.Data(), p.GradData()
		m, v := a.m.of(p), a.v.of(p)
		for i := range w {
			gi := g[i] + a.WeightDecay*w[i]
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			denom := math.Sqrt(v[i])/math.Sqrt(bc2) + a.Eps
			w[i] -= a.LR / bc1 * m[i] / denom
		}
	}
}

// SGD 带动量的随机梯度下降。
type SGD struct {
	LR          float64
	Momentum    float64
	WeightDecay float64

	buf state
}

func (s *SGD) Name() string { return "sgd" }

func (s *SGD) Step(params []*Param) {
	if s.buf == nil {
		s.buf = make(state)
	}
	for _, p := range params {
		w, g := p.Data(), p.GradData()
		var b []float64
		if s.Momentum != 0 {
			b = s.buf.of(p)
		}
		for i := range w {
			gi := g[i] + s.WeightDecay*w[i]
			if b != nil {
				b[i] = s.Momentum*b[i] + gi
				gi = b[i]
			}
			w[i] -= s.LR * gi
		}
	}
}

// RMSprop 优化器。
type RMSprop struct {
	LR       float64
	Alpha    float64
	Momentum float64
	Eps      float64

	sq  state
	buf state
}

func (r *RMSprop) Name() string { return "rmsprop" }

func (r *RMSprop) Step(params []*Param) {
	if r.sq == nil {
		r.sq = make(state)
		r.buf = make(state)
	}
	for _, p := range params {
		w, g := p.Data(), p.GradData()
		sq := r.sq.of(p)
		var b []float64
		if r.Momentum > 0 {
			b = r.buf.of(p)
		}
		for i := range w {
			sq[i] = r.Alpha*sq[i] + (1-r.Alpha)*g[i]*g[i]
			upd := g[i] / (math.Sqrt(sq[i]) + r.Eps)
			if b != nil {
				b[i] = r.Momentum*b[i] + upd
				upd = b[i]
			}
			w[i] -= r.LR * upd
		}
	}
}
