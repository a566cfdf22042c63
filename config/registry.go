package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/pipeline"
)

// 使用附加策略配置时，需在 main 中 import _ "github.com/rushteam/mmrec/config/builders"
// 以触发内置 Node（filter.blocklist、filter.expr、rerank.author_cap 等）的 init 注册。

// NodeBuilder 与 pipeline.NodeBuilder 一致：根据 config 构建 Node。
type NodeBuilder = pipeline.NodeBuilder

// Dependencies 是 Node 构建时可能用到的外部协作方，由 main 在加载策略配置前注入。
type Dependencies struct {
	// Store 供黑名单等需要在线读取的过滤器使用
	Store core.Store
}

var (
	defaultBuilders   = make(map[string]NodeBuilder)
	defaultBuildersMu sync.RWMutex

	deps   Dependencies
	depsMu sync.RWMutex
)

// Register 注册一种 Node 的构建逻辑。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("filter.expr", BuildExprNode) }
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SetDependencies 注入构建 Node 所需的外部协作方。
func SetDependencies(d Dependencies) {
	depsMu.Lock()
	defer depsMu.Unlock()
	deps = d
}

// Deps 返回当前注入的外部协作方。
func Deps() Dependencies {
	depsMu.RLock()
	defer depsMu.RUnlock()
	return deps
}

// SupportedTypes 返回当前已注册的 Node 类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultFactory 返回基于当前注册表构建的 NodeFactory。
func DefaultFactory() *pipeline.NodeFactory {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range defaultBuilders {
		f.Register(typeName, builder)
	}
	return f
}

// ValidatePipelineConfig 校验策略配置中所有 node 类型均已注册。
func ValidatePipelineConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	supported := SupportedTypes()
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	for _, nc := range cfg.Pipeline.Nodes {
		if nc.Type == "" {
			continue
		}
		if _, ok := defaultBuilders[nc.Type]; !ok {
			return core.ConfigurationErrorf(core.ModuleService,
				"unsupported node type %q (supported: %v)", nc.Type, supported)
		}
	}
	return nil
}

// LoadPolicy 读取策略文件、校验类型并构建 Node 链。path 为空时返回空链。
func LoadPolicy(path string) ([]pipeline.Node, error) {
	if path == "" {
		return nil, nil
	}
	pc, err := pipeline.LoadFromYAML(path)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, "config: load pipeline file", err)
	}
	if err := ValidatePipelineConfig(pc); err != nil {
		return nil, err
	}
	p, err := pc.BuildPipeline(DefaultFactory())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return p.Nodes, nil
}
