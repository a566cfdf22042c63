package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/sample"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "mmrec.db"), LogLevel: "silent"})
	require.NoError(t, err, "打开测试数据库失败")
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create([]User{
		{UserID: 10, Name: "a", CreatedAt: t0},
		{UserID: 20, Name: "b", CreatedAt: t0},
		{UserID: 30, Name: "c", CreatedAt: t0},
	}).Error)
	require.NoError(t, db.Create([]Post{
		{PostID: 100, UserID: 10, ImageFeature: "[0.1,0.2]", TextFeature: "[0.3]", EmbeddedFlg: true, CreatedAt: t0},
		{PostID: 200, UserID: 20, ImageFeature: "[0.4,0.5]", TextFeature: "[0.6]", EmbeddedFlg: true, CreatedAt: t0.Add(time.Hour)},
		{PostID: 300, UserID: 30, EmbeddedFlg: false, CreatedAt: t0.Add(2 * time.Hour)},
	}).Error)
	require.NoError(t, db.Create([]Like{
		{UserID: 20, PostID: 100, CreatedAt: t0.Add(2 * time.Hour)},
		{UserID: 20, PostID: 100, CreatedAt: t0.Add(2 * time.Hour)},
		{UserID: 30, PostID: 100, CreatedAt: t0.Add(3 * time.Hour)},
		{UserID: 10, PostID: 300, CreatedAt: t0.Add(3 * time.Hour)},
	}).Error)
	require.NoError(t, db.Create([]Comment{
		{UserID: 30, PostID: 200, Body: "nice", CreatedAt: t0.Add(4 * time.Hour)},
	}).Error)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql"})
	assert.True(t, core.IsConfiguration(err))
}

func TestInteractionRepository_Load(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)

	repo := NewInteractionRepository(db)
	repo.ImageDim, repo.TextDim = 2, 1
	ds, err := repo.Load(context.Background())
	require.NoError(t, err)

	// 用户 10 只发过一个帖子（对未生成 embedding 的帖子的点赞不计入），被剔除
	assert.Equal(t, map[int64]int{20: 0, 30: 1}, ds.IDMap.Users)
	assert.Equal(t, map[int64]int{100: 0, 200: 1}, ds.IDMap.Items)

	// 用户 20：发帖 200 + 去重后的点赞 100；用户 30：点赞 100 + 评论 200
	require.Len(t, ds.Rows, 4)
	assert.Contains(t, ds.Rows, core.Interaction{UserID: 0, ItemID: 1, Rating: 1, Timestamp: t0.Add(time.Hour).UnixMilli()})
	assert.Contains(t, ds.Rows, core.Interaction{UserID: 1, ItemID: 1, Rating: 1, Timestamp: t0.Add(4 * time.Hour).UnixMilli()})
	for _, row := range ds.Rows {
		assert.NotEqual(t, t0.UnixMilli(), row.Timestamp, "用户 10 的发帖不应出现")
	}

	require.Equal(t, 2, ds.Features.Len())
	assert.Equal(t, []float64{0.4, 0.5}, ds.Features.Image[1])
	assert.Equal(t, []float64{0.3}, ds.Features.Text[0])
}

func TestInteractionRepository_DropsSparseUsers(t *testing.T) {
	db := setupTestDB(t)
	post := func(id, user int64, hours int) Post {
		return Post{PostID: id, UserID: user, ImageFeature: "[0.1]", TextFeature: "[0.2]", EmbeddedFlg: true, CreatedAt: t0.Add(time.Duration(hours) * time.Hour)}
	}
	require.NoError(t, db.Create([]Post{post(1, 1, 0), post(2, 1, 1), post(3, 1, 2), post(4, 2, 3)}).Error)
	require.NoError(t, db.Create([]Like{
		{UserID: 3, PostID: 1, CreatedAt: t0.Add(5 * time.Hour)},
		{UserID: 3, PostID: 2, CreatedAt: t0.Add(6 * time.Hour)},
		{UserID: 3, PostID: 4, CreatedAt: t0.Add(7 * time.Hour)},
	}).Error)
	// 同一帖子的点赞与评论只算一个帖子
	require.NoError(t, db.Create([]Like{{UserID: 4, PostID: 3, CreatedAt: t0.Add(8 * time.Hour)}}).Error)
	require.NoError(t, db.Create([]Comment{{UserID: 4, PostID: 3, Body: "hi", CreatedAt: t0.Add(9 * time.Hour)}}).Error)

	ds, err := NewInteractionRepository(db).Load(context.Background())
	require.NoError(t, err)

	// 用户 2 只发过一个帖子，用户 4 只互动过一个帖子
	assert.Equal(t, map[int64]int{1: 0, 3: 1}, ds.IDMap.Users)
	assert.Equal(t, 4, len(ds.IDMap.Items), "帖子仍全部保留下标")
	require.Len(t, ds.Rows, 6)

	gen, err := sample.NewGenerator(ds.Rows,
		sample.WithSeed(1),
		sample.WithEvalNegatives(1),
		sample.WithBounds(len(ds.IDMap.Users), len(ds.IDMap.Items)),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, gen.NumUsers())
	assert.Len(t, gen.Test(), 2)
}

func TestDropSparseUsers(t *testing.T) {
	rows := []interactionRow{
		{UserID: 1, PostID: 10},
		{UserID: 2, PostID: 10},
		{UserID: 1, PostID: 11},
		{UserID: 2, PostID: 10, CreatedAt: t0},
	}
	out, dropped := dropSparseUsers(rows, MinUserPosts)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []interactionRow{{UserID: 1, PostID: 10}, {UserID: 1, PostID: 11}}, out)
}

func TestInteractionRepository_DimMismatch(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)

	repo := NewInteractionRepository(db)
	repo.ImageDim = 3
	_, err := repo.Load(context.Background())
	assert.True(t, core.IsDataIntegrity(err))
}

func TestInteractionRepository_CorruptFeature(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&Post{PostID: 1, UserID: 1, ImageFeature: "[0.1", TextFeature: "[1]", EmbeddedFlg: true, CreatedAt: t0}).Error)

	_, err := NewInteractionRepository(db).Load(context.Background())
	assert.True(t, core.IsDataIntegrity(err))
}

func TestCandidateRepository(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	repo := NewCandidateRepository(db)
	ctx := context.Background()

	warm, err := repo.WarmCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, warm, 2)
	assert.Equal(t, int64(200), warm[0].ID)
	assert.Equal(t, int64(100), warm[1].ID)
	assert.Nil(t, warm[0].Popularity)
	assert.Equal(t, int64(20), warm[0].Meta["author_id"])
	assert.True(t, warm[0].HasEmbeddings())

	cold, err := repo.ColdCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cold, 2)
	assert.Equal(t, 1.0, cold[0].PopularityScore())
	assert.Equal(t, 3.0, cold[1].PopularityScore())
	assert.True(t, cold[1].CreatedAt.Equal(t0))

	limited, err := repo.WarmCandidates(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCandidateRepository_Embeddings(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	repo := NewCandidateRepository(db)
	ctx := context.Background()

	emb, err := repo.GetEmbedding(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, emb.Image)

	_, err = repo.GetEmbedding(ctx, 300)
	assert.True(t, core.IsNotFound(err))

	got, err := repo.BatchGetEmbeddings(ctx, []int64{100, 200, 300})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCandidateRepository_SkipEmbeddings(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	repo := NewCandidateRepository(db, SkipEmbeddings())
	ctx := context.Background()

	warm, err := repo.WarmCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, warm, 2)
	assert.Equal(t, int64(200), warm[0].ID)
	assert.Equal(t, int64(20), warm[0].Meta["author_id"])
	assert.True(t, warm[0].CreatedAt.Equal(t0.Add(time.Hour)))
	for _, it := range warm {
		assert.False(t, it.HasEmbeddings(), "post %d", it.ID)
	}

	cold, err := repo.ColdCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cold, 2)
	assert.Equal(t, 3.0, cold[1].PopularityScore())
	assert.Empty(t, cold[1].ImageFeature)

	// 作为兜底 embedding 来源时仍读取特征列
	emb, err := repo.GetEmbedding(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, emb.Image)
}
