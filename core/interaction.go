package core

import "sort"

// Interaction 是一条用户-帖子交互记录，UserID/ItemID 已映射到稠密下标空间。
type Interaction struct {
	UserID    int     `json:"user_id"`
	ItemID    int     `json:"item_id"`
	Rating    float64 `json:"rating"`
	Timestamp int64   `json:"timestamp"`
}

// IDMap 是外部稀疏 ID 到稠密下标的映射，随 checkpoint 一起发布，
// 供在线服务把请求中的 user_id / post_id 翻译为模型下标。
type IDMap struct {
	Users map[int64]int `json:"users"`
	Items map[int64]int `json:"items"`
}

// NewIDMap 按外部 ID 升序分配稠密下标，结果与输入顺序无关。
func NewIDMap(userIDs, itemIDs []int64) *IDMap {
	return &IDMap{
		Users: denseIndex(userIDs),
		Items: denseIndex(itemIDs),
	}
}

func denseIndex(ids []int64) map[int64]int {
	uniq := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	sorted := make([]int64, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[int64]int, len(sorted))
	for i, id := range sorted {
		out[id] = i
	}
	return out
}

// UserIndex 返回用户下标；未知用户返回 -1。
func (m *IDMap) UserIndex(id int64) int {
	if m == nil {
		return int(id)
	}
	if idx, ok := m.Users[id]; ok {
		return idx
	}
	return -1
}

// ItemIndex 返回帖子下标；未知帖子返回 -1。
func (m *IDMap) ItemIndex(id int64) int {
	if m == nil {
		return int(id)
	}
	if idx, ok := m.Items[id]; ok {
		return idx
	}
	return -1
}

// FeatureTable 按稠密 item 下标存放训练期使用的内容 embedding。
type FeatureTable struct {
	Image [][]float64
	Text  [][]float64
}

// Len 返回可查询的 item 数。
func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Image)
}
