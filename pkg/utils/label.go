// Package utils 放置链路各阶段共用的小工具。
package utils

import "strings"

// 链路写入的 Label key。
const (
	LabelRankModel       = "rank_model"       // 打分所用模型：结构名或 popularity
	LabelFiltered        = "filtered"         // 被过滤时写入，Source 为过滤原因
	LabelEmbeddingSource = "embedding_source" // 补齐 embedding 的来源
)

// Label 记录候选在链路中经过的处理，用于解释与排查。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // feature / rank / filter 原因
}

// MergeLabel 合并同名 Label：Value 以 '|' 累积，Source 以 ',' 累积；任一侧为空时取另一侧。
func MergeLabel(existing, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}
	return Label{
		Value:  existing.Value + "|" + incoming.Value,
		Source: joinNonEmpty(",", existing.Source, incoming.Source),
	}
}

// Values 拆开累积后的 Value。
func (l Label) Values() []string {
	if l.Value == "" {
		return nil
	}
	return strings.Split(l.Value, "|")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
