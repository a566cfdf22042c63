package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/logging"
)

// Dataset 是从关系库抽取的一份训练数据。
type Dataset struct {
	// Rows 的 UserID/ItemID 已是稠密下标，Timestamp 为毫秒
	Rows     []core.Interaction
	IDMap    *core.IDMap
	Features *core.FeatureTable
}

// MinUserPosts 是用户进入训练集所需的最少交互帖子数：留一法需要一条测试、至少一条训练。
const MinUserPosts = 2

// InteractionRepository 抽取训练用的交互日志。
//
// 交互是三类记录的并集：
//   - 作者发帖
//   - 点赞
//   - 评论
//
// 评分均为 1。交互帖子数不足 MinUserPosts 的用户被剔除，剩余用户的外部 ID 按升序映射为稠密下标。
type InteractionRepository struct {
	db     *gorm.DB
	logger zerolog.Logger

	// ImageDim / TextDim 大于 0 时校验每个帖子的维度
	ImageDim int
	TextDim  int
}

func NewInteractionRepository(db *gorm.DB) *InteractionRepository {
	return &InteractionRepository{db: db, logger: logging.Component("database")}
}

type interactionRow struct {
	UserID    int64
	PostID    int64
	CreatedAt time.Time
}

// Load 读取全部交互与帖子 embedding。
func (r *InteractionRepository) Load(ctx context.Context) (*Dataset, error) {
	db := r.db.WithContext(ctx)

	var posts []Post
	if err := db.Where("embedded_flg = ?", true).Order("post_id").Find(&posts).Error; err != nil {
		return nil, core.ExternalError(core.ModuleDatabase, "database: load posts", err)
	}

	raw := make([]interactionRow, 0, len(posts))
	for _, p := range posts {
		raw = append(raw, interactionRow{UserID: p.UserID, PostID: p.PostID, CreatedAt: p.CreatedAt})
	}
	for _, table := range []string{"likes", "comments"} {
		var rows []interactionRow
		err := db.Table(table).
			Select(table+".user_id, "+table+".post_id, "+table+".created_at").
			Joins("JOIN posts ON posts.post_id = "+table+".post_id").
			Where("posts.embedded_flg = ?", true).
			Scan(&rows).Error
		if err != nil {
			return nil, core.ExternalError(core.ModuleDatabase, "database: load "+table, err)
		}
		raw = append(raw, rows...)
	}
	raw = union(raw)
	raw, dropped := dropSparseUsers(raw, MinUserPosts)
	if dropped > 0 {
		r.logger.Info().Int("users", dropped).Int("min_posts", MinUserPosts).Msg("dropped users with too few interactions")
	}

	userIDs := make([]int64, 0, len(raw))
	postIDs := make([]int64, 0, len(posts))
	for _, row := range raw {
		userIDs = append(userIDs, row.UserID)
	}
	for _, p := range posts {
		postIDs = append(postIDs, p.PostID)
	}
	idMap := core.NewIDMap(userIDs, postIDs)

	features := &core.FeatureTable{
		Image: make([][]float64, len(idMap.Items)),
		Text:  make([][]float64, len(idMap.Items)),
	}
	for i := range posts {
		emb, err := posts[i].Embedding()
		if err != nil {
			return nil, err
		}
		if err := r.checkDims(posts[i].PostID, emb); err != nil {
			return nil, err
		}
		idx := idMap.Items[posts[i].PostID]
		features.Image[idx], features.Text[idx] = emb.Image, emb.Text
	}

	rows := make([]core.Interaction, len(raw))
	for i, row := range raw {
		rows[i] = core.Interaction{
			UserID:    idMap.Users[row.UserID],
			ItemID:    idMap.Items[row.PostID],
			Rating:    1,
			Timestamp: row.CreatedAt.UnixMilli(),
		}
	}

	r.logger.Info().
		Int("interactions", len(rows)).
		Int("users", len(idMap.Users)).
		Int("posts", len(idMap.Items)).
		Msg("interactions loaded")
	return &Dataset{Rows: rows, IDMap: idMap, Features: features}, nil
}

func (r *InteractionRepository) checkDims(id int64, emb *core.Embedding) error {
	if r.ImageDim > 0 && len(emb.Image) != r.ImageDim {
		return core.DataIntegrityErrorf(core.ModuleDatabase,
			"database: post %d image_feature has %d dims, want %d", id, len(emb.Image), r.ImageDim)
	}
	if r.TextDim > 0 && len(emb.Text) != r.TextDim {
		return core.DataIntegrityErrorf(core.ModuleDatabase,
			"database: post %d text_feature has %d dims, want %d", id, len(emb.Text), r.TextDim)
	}
	return nil
}

// dropSparseUsers 剔除交互过的不同帖子数少于 minPosts 的用户，返回剩余记录与剔除的用户数。
// 同一帖子的点赞与评论只算一次，与训练侧按 (user, item) 去重一致。
func dropSparseUsers(rows []interactionRow, minPosts int) ([]interactionRow, int) {
	type pair struct{ user, post int64 }
	seen := make(map[pair]struct{}, len(rows))
	posts := make(map[int64]int)
	for _, row := range rows {
		p := pair{row.UserID, row.PostID}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		posts[row.UserID]++
	}

	dropped := 0
	for _, n := range posts {
		if n < minPosts {
			dropped++
		}
	}
	if dropped == 0 {
		return rows, 0
	}
	out := rows[:0]
	for _, row := range rows {
		if posts[row.UserID] >= minPosts {
			out = append(out, row)
		}
	}
	return out, dropped
}

// union 去掉完全相同的记录，保留首次出现的顺序。
func union(rows []interactionRow) []interactionRow {
	type key struct {
		user, post int64
		ts         int64
	}
	seen := make(map[key]struct{}, len(rows))
	out := rows[:0]
	for _, row := range rows {
		k := key{row.UserID, row.PostID, row.CreatedAt.UnixNano()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out
}
