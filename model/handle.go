package model

import (
	"sync/atomic"
	"time"

	"github.com/rushteam/mmrec/core"
)

// Snapshot 是一个已加载、只读的模型版本。
type Snapshot struct {
	Model    Model
	IDMap    *core.IDMap
	Version  string
	LoadedAt time.Time
}

// NumUsers 返回训练时的用户数。
func (s *Snapshot) NumUsers() int { return s.Model.Config().NumUsers }

// UserIndex 把外部用户 ID 翻译为模型下标；冷启动用户返回 -1。
func (s *Snapshot) UserIndex(userID int64) int {
	idx := s.IDMap.UserIndex(userID)
	if idx < 0 || idx >= s.NumUsers() {
		return -1
	}
	return idx
}

// ItemIndex 把外部帖子 ID 翻译为模型下标；训练期未见过的帖子返回 -1。
func (s *Snapshot) ItemIndex(itemID int64) int {
	idx := s.IDMap.ItemIndex(itemID)
	if idx >= s.Model.Config().NumItems {
		return -1
	}
	return idx
}

// Handle 持有当前在线模型，重载时整体原子替换。
// 请求方在入口处 Load 一次，并在整个请求中使用同一个 Snapshot。
type Handle struct {
	p atomic.Pointer[Snapshot]
}

func NewHandle() *Handle { return &Handle{} }

// Load 返回当前快照，未加载时为 nil。
func (h *Handle) Load() *Snapshot { return h.p.Load() }

// Swap 原子替换快照并返回旧值。
func (h *Handle) Swap(s *Snapshot) *Snapshot { return h.p.Swap(s) }
