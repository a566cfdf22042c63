package filter

import (
	"context"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pkg/dsl"
)

// ExprFilter 过滤 CEL 表达式求值为 true 的候选，表达式语法见 pkg/dsl。
type ExprFilter struct {
	prg *dsl.Program
}

// NewExprFilter 编译表达式。
func NewExprFilter(expr string) (*ExprFilter, error) {
	prg, err := dsl.Compile(expr)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleTimeline, core.ErrorCodeConfiguration, "filter: bad expression", err)
	}
	return &ExprFilter{prg: prg}, nil
}

func (f *ExprFilter) Name() string { return "filter.expr" }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	return f.prg.Eval(item, rctx)
}
