package engine

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/sample"
)

// EvalResult 是一次留一法评估的结果。
type EvalResult struct {
	HitRatio float64
	NDCG     float64
	Users    int
}

// Evaluate 对每个测试用户的 1 个正样本与固定负样本打分，计算 HR@K 与 NDCG@K。
// 整体一次前向与分块打分的结果在浮点误差内一致。
func (e *Engine) Evaluate(ctx context.Context, data *sample.EvalData, epoch int) (EvalResult, error) {
	if e.model == nil {
		return EvalResult{}, core.ErrModelNotSet
	}
	e.setState(StateEvaluating)
	defer e.setState(StateIdle)

	testScores, err := e.score(ctx, data.TestUsers, data.TestItems)
	if err != nil {
		return EvalResult{}, err
	}
	negScores, err := e.score(ctx, data.NegativeUsers, data.NegativeItems)
	if err != nil {
		return EvalResult{}, err
	}
	res, err := Metron{TopK: e.topK}.Compute(data, testScores, negScores)
	if err != nil {
		return EvalResult{}, err
	}
	e.logger.Debug().Int("epoch", epoch).Int("users", res.Users).
		Float64("hit_ratio", res.HitRatio).Float64("ndcg", res.NDCG).Msg("evaluated")
	return res, nil
}

// score 对下标对打分。evalBatchSize <= 0 时一次前向，否则分块并发，结果按块下标写回原位。
func (e *Engine) score(ctx context.Context, users, items []int) ([]float64, error) {
	n := len(users)
	if n == 0 {
		return nil, nil
	}
	if e.evalBatchSize <= 0 || e.evalBatchSize >= n {
		return e.predict(users, items)
	}

	out := make([]float64, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.evalWorkers)
	for start := 0; start < n; start += e.evalBatchSize {
		start, end := start, min(start+e.evalBatchSize, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scores, err := e.predict(users[start:end], items[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], scores)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) predict(users, items []int) ([]float64, error) {
	in, err := e.batch(users, items)
	if err != nil {
		return nil, err
	}
	return model.Predict(e.model, in)
}

// Metron 计算留一法排序指标。
//
// 每个用户的候选顺序为 负样本（按采样顺序）在前、正样本在后，按分数稳定降序排列，
// 因此与正样本同分的负样本排在它前面：rank = 1 + |{neg : neg >= pos}|。
type Metron struct {
	TopK int
}

// Compute 返回 HR@K 与 NDCG@K。
//   - HR@K = 正样本排在前 K 的用户占比
//   - NDCG@K = 对全部用户取平均，命中时记 1/log2(rank+1)，否则记 0
func (m Metron) Compute(data *sample.EvalData, testScores, negScores []float64) (EvalResult, error) {
	users := len(data.TestUsers)
	if len(testScores) != users || len(negScores) != len(data.NegativeUsers) {
		return EvalResult{}, core.DataIntegrityErrorf(core.ModuleEngine,
			"engine: got %d/%d scores for %d/%d candidates",
			len(testScores), len(negScores), users, len(data.NegativeUsers))
	}
	if users == 0 {
		return EvalResult{}, nil
	}
	if len(negScores)%users != 0 {
		return EvalResult{}, core.DataIntegrityErrorf(core.ModuleEngine,
			"engine: %d negatives do not split evenly over %d users", len(negScores), users)
	}
	k := m.TopK
	if k <= 0 {
		k = core.DefaultTopK
	}
	per := len(negScores) / users

	var hits, ndcg float64
	for u := 0; u < users; u++ {
		rank := Rank(testScores[u], negScores[u*per:(u+1)*per])
		if rank <= k {
			hits++
			ndcg += 1 / math.Log2(float64(rank)+1)
		}
	}
	return EvalResult{
		HitRatio: hits / float64(users),
		NDCG:     ndcg / float64(users),
		Users:    users,
	}, nil
}

// Rank 返回正样本的 1-based 名次。
func Rank(positive float64, negatives []float64) int {
	rank := 1
	for _, s := range negatives {
		if s >= positive {
			rank++
		}
	}
	return rank
}
