// Package sample 把原始交互日志转换为隐式反馈训练数据：
// 二值化、留一法切分、负样本池以及每轮重新采样的训练批次。
package sample

import (
	"math/rand"
	"sort"
	"time"

	"github.com/rushteam/mmrec/core"
)

// Generator 是样本生成器。
//
// 负样本池在构造时一次性计算；评估负样本（默认 99 个）也只抽一次，
// 训练负样本则在每次 InstanceTrainLoader 时重新抽取。
//
// Generator 持有的 *rand.Rand 不是并发安全的，同一个 Generator 不要在多个 goroutine 中使用。
type Generator struct {
	rng           *rand.Rand
	evalNegatives int
	numUsers      int
	numItems      int

	ratings  []core.Interaction
	userPool []int
	itemPool []int

	train []core.Interaction
	test  []core.Interaction

	// interacted 是每个用户交互过的 item 集合
	interacted map[int]map[int]struct{}
	// candidates 是每个用户未交互的 item（升序）
	candidates map[int][]int
	// evalNeg 是每个用户固定的评估负样本
	evalNeg map[int][]int
}

// Option 配置 Generator。
type Option func(*Generator)

// WithRand 注入随机源，测试中用固定种子保证可复现。
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = rng
	}
}

// WithSeed 使用固定种子。
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithEvalNegatives 覆盖评估负样本数，仅用于 item 池很小的场景（如单元测试）。
func WithEvalNegatives(n int) Option {
	return func(g *Generator) {
		g.evalNegatives = n
	}
}

// WithBounds 声明稠密 ID 空间的上界，构造时校验所有 ID 都落在 [0, bound) 内。
func WithBounds(numUsers, numItems int) Option {
	return func(g *Generator) {
		g.numUsers = numUsers
		g.numItems = numItems
	}
}

// NewGenerator 从交互日志构造样本生成器。
func NewGenerator(rows []core.Interaction, opts ...Option) (*Generator, error) {
	g := &Generator{evalNegatives: core.DefaultEvalNegatives}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if g.evalNegatives <= 0 {
		return nil, core.ConfigurationErrorf(core.ModuleSample, "sample: eval negatives must be positive, got %d", g.evalNegatives)
	}
	if len(rows) == 0 {
		return nil, core.ConfigurationError(core.ModuleSample, "sample: empty interaction log")
	}
	if err := g.checkIDs(rows); err != nil {
		return nil, err
	}

	g.ratings = Dedup(Binarize(rows))
	if len(g.ratings) == 0 {
		return nil, core.ConfigurationError(core.ModuleSample, "sample: no positive interactions after binarization")
	}
	g.userPool, g.itemPool = pools(g.ratings)

	if err := g.sampleNegatives(); err != nil {
		return nil, err
	}

	train, test, err := SplitLeaveOneOut(g.ratings)
	if err != nil {
		return nil, err
	}
	g.train, g.test = train, test
	return g, nil
}

func (g *Generator) checkIDs(rows []core.Interaction) error {
	for i, r := range rows {
		if r.UserID < 0 || r.ItemID < 0 {
			return core.InvalidInputErrorf(core.ModuleSample, "sample: row %d has negative id (user=%d, item=%d)", i, r.UserID, r.ItemID)
		}
		if g.numUsers > 0 && r.UserID >= g.numUsers {
			return core.ConfigurationErrorf(core.ModuleSample, "sample: row %d user %d out of range [0, %d)", i, r.UserID, g.numUsers)
		}
		if g.numItems > 0 && r.ItemID >= g.numItems {
			return core.ConfigurationErrorf(core.ModuleSample, "sample: row %d item %d out of range [0, %d)", i, r.ItemID, g.numItems)
		}
	}
	return nil
}

// Binarize 把 rating > 0 映射为 1.0，其余为 0.0；rating 为 0 的行不代表交互，直接丢弃。
func Binarize(rows []core.Interaction) []core.Interaction {
	out := make([]core.Interaction, 0, len(rows))
	for _, r := range rows {
		if r.Rating <= 0 {
			continue
		}
		r.Rating = 1.0
		out = append(out, r)
	}
	return out
}

// Dedup 保证每个 (user, item) 只保留一行：取时间戳最大的一行，时间戳相同取先出现的。
// 输出保持各组首次出现的顺序。
func Dedup(rows []core.Interaction) []core.Interaction {
	type pair struct{ u, i int }
	pos := make(map[pair]int, len(rows))
	out := make([]core.Interaction, 0, len(rows))
	for _, r := range rows {
		k := pair{r.UserID, r.ItemID}
		if at, ok := pos[k]; ok {
			if r.Timestamp > out[at].Timestamp {
				out[at] = r
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func pools(rows []core.Interaction) (users, items []int) {
	us := make(map[int]struct{})
	is := make(map[int]struct{})
	for _, r := range rows {
		us[r.UserID] = struct{}{}
		is[r.ItemID] = struct{}{}
	}
	return sortedKeys(us), sortedKeys(is)
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// SplitLeaveOneOut 按用户做留一法切分：时间戳最新的一条进测试集，其余进训练集。
// 时间戳相同按输入顺序先出现者优先，结果在固定输入顺序下是确定的。
// 训练集与测试集的用户集合必须一致，否则返回 CONFIGURATION 错误。
func SplitLeaveOneOut(rows []core.Interaction) (train, test []core.Interaction, err error) {
	latest := make(map[int]int) // user -> 测试行在 rows 中的下标
	for i, r := range rows {
		at, ok := latest[r.UserID]
		if !ok || r.Timestamp > rows[at].Timestamp {
			latest[r.UserID] = i
		}
	}

	testIdx := make(map[int]struct{}, len(latest))
	for _, i := range latest {
		testIdx[i] = struct{}{}
	}

	trainUsers := make(map[int]struct{})
	for i, r := range rows {
		if _, ok := testIdx[i]; ok {
			test = append(test, r)
			continue
		}
		train = append(train, r)
		trainUsers[r.UserID] = struct{}{}
	}

	var missing []int
	for _, r := range test {
		if _, ok := trainUsers[r.UserID]; !ok {
			missing = append(missing, r.UserID)
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return nil, nil, core.ConfigurationErrorf(core.ModuleSample,
			"sample: leave-one-out split left %d user(s) without training rows (first: %d); every user needs at least 2 interactions",
			len(missing), missing[0])
	}
	return train, test, nil
}

// sampleNegatives 计算每个用户的未交互 item 集合，并抽取固定的评估负样本。
func (g *Generator) sampleNegatives() error {
	g.interacted = make(map[int]map[int]struct{}, len(g.userPool))
	for _, r := range g.ratings {
		set, ok := g.interacted[r.UserID]
		if !ok {
			set = make(map[int]struct{})
			g.interacted[r.UserID] = set
		}
		set[r.ItemID] = struct{}{}
	}

	g.candidates = make(map[int][]int, len(g.userPool))
	g.evalNeg = make(map[int][]int, len(g.userPool))
	for _, u := range g.userPool {
		seen := g.interacted[u]
		cands := make([]int, 0, len(g.itemPool)-len(seen))
		for _, it := range g.itemPool {
			if _, ok := seen[it]; !ok {
				cands = append(cands, it)
			}
		}
		if len(cands) < g.evalNegatives {
			return core.ConfigurationErrorf(core.ModuleSample,
				"sample: user %d has %d negative candidates, need %d", u, len(cands), g.evalNegatives)
		}
		g.candidates[u] = cands
		g.evalNeg[u] = drawWithoutReplacement(g.rng, cands, g.evalNegatives)
	}
	return nil
}

// drawWithoutReplacement 从 pool 中无放回均匀抽取 k 个元素。
// k 远小于 pool 时用拒绝采样，否则做部分 Fisher-Yates。
func drawWithoutReplacement(rng *rand.Rand, pool []int, k int) []int {
	n := len(pool)
	out := make([]int, 0, k)
	if k*4 < n {
		picked := make(map[int]struct{}, k)
		for len(out) < k {
			j := rng.Intn(n)
			if _, ok := picked[j]; ok {
				continue
			}
			picked[j] = struct{}{}
			out = append(out, pool[j])
		}
		return out
	}
	buf := make([]int, n)
	copy(buf, pool)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		buf[i], buf[j] = buf[j], buf[i]
		out = append(out, buf[i])
	}
	return out
}

// NumUsers 返回用户 ID 上界（最大 ID + 1）。
func (g *Generator) NumUsers() int {
	if g.numUsers > 0 {
		return g.numUsers
	}
	return g.userPool[len(g.userPool)-1] + 1
}

// NumItems 返回 item ID 上界（最大 ID + 1）。
func (g *Generator) NumItems() int {
	if g.numItems > 0 {
		return g.numItems
	}
	return g.itemPool[len(g.itemPool)-1] + 1
}

// Train 返回训练正样本。
func (g *Generator) Train() []core.Interaction { return g.train }

// Test 返回测试正样本，每个用户一条。
func (g *Generator) Test() []core.Interaction { return g.test }

// EvalNegatives 返回某个用户固定的评估负样本。
func (g *Generator) EvalNegatives(user int) []int { return g.evalNeg[user] }

// Interacted 判断用户是否交互过某个 item。
func (g *Generator) Interacted(user, item int) bool {
	_, ok := g.interacted[user][item]
	return ok
}
