package sample

import (
	"github.com/rushteam/mmrec/core"
)

// Batch 是一个训练小批次。
type Batch struct {
	Users   []int
	Items   []int
	Ratings []float64
}

// Len 返回批次行数。
func (b *Batch) Len() int { return len(b.Users) }

// Loader 是一轮训练的全部小批次，按顺序消费。
type Loader struct {
	batches []*Batch
	rows    int
}

// Batches 返回全部批次。
func (l *Loader) Batches() []*Batch { return l.batches }

// NumBatches 返回批次数。
func (l *Loader) NumBatches() int { return len(l.batches) }

// Rows 返回总行数，等于 正样本数 × (1 + numNegatives)。
func (l *Loader) Rows() int { return l.rows }

// InstanceTrainLoader 为每条训练正样本生成 1 条正样本和 numNegatives 条新抽取的负样本，
// 打乱后切成 batchSize 大小的批次。每次调用都会重新抽取负样本。
func (g *Generator) InstanceTrainLoader(numNegatives, batchSize int) (*Loader, error) {
	if numNegatives < 0 {
		return nil, core.ConfigurationErrorf(core.ModuleSample, "sample: num negatives must be >= 0, got %d", numNegatives)
	}
	if batchSize <= 0 {
		return nil, core.ConfigurationErrorf(core.ModuleSample, "sample: batch size must be positive, got %d", batchSize)
	}

	n := len(g.train) * (1 + numNegatives)
	users := make([]int, 0, n)
	items := make([]int, 0, n)
	ratings := make([]float64, 0, n)
	for _, r := range g.train {
		users = append(users, r.UserID)
		items = append(items, r.ItemID)
		ratings = append(ratings, r.Rating)

		cands := g.candidates[r.UserID]
		if len(cands) < numNegatives {
			return nil, core.ConfigurationErrorf(core.ModuleSample,
				"sample: user %d has %d negative candidates, need %d", r.UserID, len(cands), numNegatives)
		}
		for _, neg := range drawWithoutReplacement(g.rng, cands, numNegatives) {
			users = append(users, r.UserID)
			items = append(items, neg)
			ratings = append(ratings, 0)
		}
	}

	g.rng.Shuffle(len(users), func(i, j int) {
		users[i], users[j] = users[j], users[i]
		items[i], items[j] = items[j], items[i]
		ratings[i], ratings[j] = ratings[j], ratings[i]
	})

	loader := &Loader{rows: len(users)}
	for start := 0; start < len(users); start += batchSize {
		end := min(start+batchSize, len(users))
		loader.batches = append(loader.batches, &Batch{
			Users:   users[start:end],
			Items:   items[start:end],
			Ratings: ratings[start:end],
		})
	}
	return loader, nil
}

// EvalData 是留一法评估数据：每个测试用户 1 个正样本 + 固定负样本。
// 负样本按测试用户顺序分组连续存放。
type EvalData struct {
	TestUsers     []int
	TestItems     []int
	NegativeUsers []int
	NegativeItems []int
}

// NumCandidates 返回每个用户的候选数（正样本 + 负样本）。
func (d *EvalData) NumCandidates() int {
	if len(d.TestUsers) == 0 {
		return 0
	}
	return 1 + len(d.NegativeUsers)/len(d.TestUsers)
}

// EvaluateData 返回评估数据，每个用户恰好 1 + evalNegatives 个候选。
func (g *Generator) EvaluateData() *EvalData {
	d := &EvalData{
		TestUsers: make([]int, 0, len(g.test)),
		TestItems: make([]int, 0, len(g.test)),
	}
	for _, r := range g.test {
		d.TestUsers = append(d.TestUsers, r.UserID)
		d.TestItems = append(d.TestItems, r.ItemID)
		for _, neg := range g.evalNeg[r.UserID] {
			d.NegativeUsers = append(d.NegativeUsers, r.UserID)
			d.NegativeItems = append(d.NegativeItems, neg)
		}
	}
	return d
}
