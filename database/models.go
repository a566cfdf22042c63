package database

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
)

// User 用户表
type User struct {
	UserID    int64     `gorm:"column:user_id;primaryKey"`
	Name      string    `gorm:"column:name;size:64"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (User) TableName() string { return "users" }

// Post 帖子表。ImageFeature / TextFeature 是 JSON 数组文本，
// 由多模态编码任务写入后置 EmbeddedFlg。
type Post struct {
	PostID       int64     `gorm:"column:post_id;primaryKey"`
	UserID       int64     `gorm:"column:user_id;index"`
	Caption      string    `gorm:"column:caption"`
	ImageFeature string    `gorm:"column:image_feature;type:text"`
	TextFeature  string    `gorm:"column:text_feature;type:text"`
	EmbeddedFlg  bool      `gorm:"column:embedded_flg;index"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
}

func (Post) TableName() string { return "posts" }

// Embedding 解析帖子的内容向量，JSON 损坏时返回 DATA_INTEGRITY。
func (p *Post) Embedding() (*core.Embedding, error) {
	var emb core.Embedding
	if err := json.Unmarshal([]byte(p.ImageFeature), &emb.Image); err != nil {
		return nil, core.DataIntegrityErrorf(core.ModuleDatabase, "database: post %d image_feature: %v", p.PostID, err)
	}
	if err := json.Unmarshal([]byte(p.TextFeature), &emb.Text); err != nil {
		return nil, core.DataIntegrityErrorf(core.ModuleDatabase, "database: post %d text_feature: %v", p.PostID, err)
	}
	return &emb, nil
}

// Like 点赞表
type Like struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;index"`
	PostID    int64     `gorm:"column:post_id;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Like) TableName() string { return "likes" }

// Comment 评论表
type Comment struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;index"`
	PostID    int64     `gorm:"column:post_id;index"`
	Body      string    `gorm:"column:body"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Comment) TableName() string { return "comments" }
