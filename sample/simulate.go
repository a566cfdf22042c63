package sample

import (
	"math/rand"

	"github.com/rushteam/mmrec/core"
	"gonum.org/v1/gonum/floats"
)

// SimulateConfig 描述合成交互日志的规模。
type SimulateConfig struct {
	NumUsers   int
	NumItems   int
	NumRecords int
	ImageDim   int
	TextDim    int
}

// Simulate 生成合成交互日志和 L2 归一化的内容 embedding，用于离线冒烟训练。
// 每个用户至少有 2 条不同帖子的交互，保证留一法切分可用；NumItems 至少为 2。
func Simulate(rng *rand.Rand, cfg SimulateConfig) ([]core.Interaction, *core.FeatureTable) {
	rows := make([]core.Interaction, 0, max(cfg.NumRecords, 2*cfg.NumUsers))
	ts := int64(1_600_000_000)
	for u := 0; u < cfg.NumUsers; u++ {
		first := rng.Intn(cfg.NumItems)
		second := (first + 1 + rng.Intn(cfg.NumItems-1)) % cfg.NumItems
		for _, it := range []int{first, second} {
			ts++
			rows = append(rows, core.Interaction{UserID: u, ItemID: it, Rating: 1, Timestamp: ts})
		}
	}
	for len(rows) < cfg.NumRecords {
		ts++
		rows = append(rows, core.Interaction{
			UserID:    rng.Intn(cfg.NumUsers),
			ItemID:    rng.Intn(cfg.NumItems),
			Rating:    1,
			Timestamp: ts,
		})
	}

	table := &core.FeatureTable{
		Image: make([][]float64, cfg.NumItems),
		Text:  make([][]float64, cfg.NumItems),
	}
	for i := 0; i < cfg.NumItems; i++ {
		table.Image[i] = randomUnit(rng, cfg.ImageDim)
		table.Text[i] = randomUnit(rng, cfg.TextDim)
	}
	return rows, table
}

func randomUnit(rng *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	if norm := floats.Norm(v, 2); norm > 0 {
		floats.Scale(1/norm, v)
	}
	return v
}
