package database

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/rushteam/mmrec/core"
)

// CandidateRepository 从帖子表读取在线排序的候选池，按发帖时间倒序。
type CandidateRepository struct {
	db             *gorm.DB
	skipEmbeddings bool
}

// CandidateOption 配置 CandidateRepository。
type CandidateOption func(*CandidateRepository)

// SkipEmbeddings 让候选只带 post_id / user_id / created_at，不读取特征列，
// embedding 由 feature.EnrichNode 从配置的来源（Redis / Feast）补齐。
func SkipEmbeddings() CandidateOption {
	return func(r *CandidateRepository) { r.skipEmbeddings = true }
}

func NewCandidateRepository(db *gorm.DB, opts ...CandidateOption) *CandidateRepository {
	r := &CandidateRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var candidateColumns = []string{"posts.post_id", "posts.user_id", "posts.created_at"}

// columns 返回候选查询的列，跳过 embedding 时不读取特征列。
func (r *CandidateRepository) columns() string {
	if r.skipEmbeddings {
		return strings.Join(candidateColumns, ", ")
	}
	return "posts.*"
}

type candidateRow struct {
	Post       `gorm:"embedded"`
	Popularity float64 `gorm:"column:popularity"`
}

// WarmCandidates 返回已生成 embedding 的最新帖子。limit <= 0 时不限制。
func (r *CandidateRepository) WarmCandidates(ctx context.Context, limit int) ([]*core.Item, error) {
	var posts []Post
	q := r.db.WithContext(ctx).
		Select(r.columns()).
		Where("posts.embedded_flg = ?", true).
		Order("posts.created_at DESC").Order("posts.post_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&posts).Error; err != nil {
		return nil, core.ExternalError(core.ModuleDatabase, "database: warm candidates", err)
	}
	items := make([]*core.Item, 0, len(posts))
	for i := range posts {
		it, err := r.toItem(&posts[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ColdCandidates 在 WarmCandidates 的基础上附带流行度：点赞数 + 评论数。
func (r *CandidateRepository) ColdCandidates(ctx context.Context, limit int) ([]*core.Item, error) {
	var rows []candidateRow
	q := r.db.WithContext(ctx).
		Model(&Post{}).
		Select(r.columns() + ", " +
			"(SELECT COUNT(*) FROM likes WHERE likes.post_id = posts.post_id) + " +
			"(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.post_id) AS popularity").
		Where("posts.embedded_flg = ?", true).
		Order("posts.created_at DESC").Order("posts.post_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, core.ExternalError(core.ModuleDatabase, "database: cold candidates", err)
	}
	items := make([]*core.Item, 0, len(rows))
	for i := range rows {
		it, err := r.toItem(&rows[i].Post)
		if err != nil {
			return nil, err
		}
		pop := rows[i].Popularity
		it.Popularity = &pop
		items = append(items, it)
	}
	return items, nil
}

// GetEmbedding 让帖子表也能作为 embedding 来源，通常排在 Feast/Redis 之后兜底。
func (r *CandidateRepository) GetEmbedding(ctx context.Context, itemID int64) (*core.Embedding, error) {
	var post Post
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND embedded_flg = ?", itemID, true).
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.NewDomainError(core.ModuleDatabase, core.ErrorCodeNotFound, "database: post not embedded")
	}
	if err != nil {
		return nil, core.ExternalError(core.ModuleDatabase, "database: get embedding", err)
	}
	return post.Embedding()
}

func (r *CandidateRepository) BatchGetEmbeddings(ctx context.Context, itemIDs []int64) (map[int64]*core.Embedding, error) {
	out := make(map[int64]*core.Embedding, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	var posts []Post
	err := r.db.WithContext(ctx).
		Where("post_id IN ? AND embedded_flg = ?", itemIDs, true).
		Find(&posts).Error
	if err != nil {
		return nil, core.ExternalError(core.ModuleDatabase, "database: batch get embeddings", err)
	}
	for i := range posts {
		emb, err := posts[i].Embedding()
		if err != nil {
			return nil, err
		}
		out[posts[i].PostID] = emb
	}
	return out, nil
}

func (r *CandidateRepository) Name() string { return "database" }

func (r *CandidateRepository) toItem(p *Post) (*core.Item, error) {
	it := core.NewItem(p.PostID)
	it.CreatedAt = p.CreatedAt
	it.Meta["author_id"] = p.UserID
	if r.skipEmbeddings {
		return it, nil
	}
	emb, err := p.Embedding()
	if err != nil {
		return nil, err
	}
	it.ImageFeature, it.TextFeature = emb.Image, emb.Text
	return it, nil
}

var (
	_ core.CandidateSource = (*CandidateRepository)(nil)
	_ core.EmbeddingSource = (*CandidateRepository)(nil)
)
