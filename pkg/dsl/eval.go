// Package dsl 是基于 CEL (Common Expression Language) 的策略表达式。
//
// 表达式可访问的变量：
//   - item.id / item.score / item.popularity / item.created_at (unix 秒) / item.age_hours / item.meta
//   - label.<key>：item 上 Label 的 Value，例如 label.rank_model == "mmneumf"
//   - rctx.user_id / rctx.cold / rctx.params
//
// 示例：
//   - `item.age_hours > 168.0` → 发布超过 7 天
//   - `rctx.cold && item.popularity < 3.0` → 冷启动用户且流行度不足
//   - `label.rank_model != null && item.score < 0.6`
package dsl

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/mmrec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("item", cel.DynType),
			cel.Variable("label", cel.DynType),
			cel.Variable("rctx", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Program 是编译后的表达式，可被多个请求并发求值。
type Program struct {
	expr string
	prg  cel.Program
	now  func() time.Time
}

// Compile 编译表达式；表达式必须返回 bool。
func Compile(expr string) (*Program, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Program{expr: expr, prg: prg, now: time.Now}, nil
}

// String 返回原始表达式。
func (p *Program) String() string { return p.expr }

// Eval 对一个候选求值。
func (p *Program) Eval(item *core.Item, rctx *core.RecommendContext) (bool, error) {
	out, _, err := p.prg.Eval(p.input(item, rctx))
	if err != nil {
		// 访问不存在的 key 会报错，存在性检查应写成 label.key != null
		return false, fmt.Errorf("eval %q: %w", p.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must return boolean, got %T", p.expr, out.Value())
	}
	return result, nil
}

func (p *Program) input(item *core.Item, rctx *core.RecommendContext) map[string]interface{} {
	labels := make(map[string]interface{}, len(item.Labels))
	for k, v := range item.Labels {
		labels[k] = v.Value
	}

	var created int64
	var age float64
	if !item.CreatedAt.IsZero() {
		created = item.CreatedAt.Unix()
		age = p.now().Sub(item.CreatedAt).Hours()
	}
	it := map[string]interface{}{
		"id":         item.ID,
		"score":      item.Score,
		"popularity": item.PopularityScore(),
		"created_at": created,
		"age_hours":  age,
		"meta":       item.Meta,
	}

	r := map[string]interface{}{}
	if rctx != nil {
		r["user_id"] = rctx.UserID
		r["cold"] = rctx.Cold
		r["params"] = rctx.Params
	}

	return map[string]interface{}{
		"item":  it,
		"label": labels,
		"rctx":  r,
	}
}
