// Package checkpoint 负责模型存档：自描述的制品格式、文件与 S3 存储后端，
// 以及记录每轮指标的 badger 索引。
//
// 一个制品同时包含结构配置、参数与指标，在线服务只凭制品即可重建同构模型。
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/model"
)

// FormatVersion 是制品格式版本。
const FormatVersion = 1

// LatestKey 是在线服务重载的制品 key。
const LatestKey = "latest.model"

// Metrics 是产出该制品时的训练指标。
type Metrics struct {
	Loss     float64 `json:"loss"`
	HitRatio float64 `json:"hit_ratio"`
	NDCG     float64 `json:"ndcg"`
}

// Checkpoint 是一个模型制品。
type Checkpoint struct {
	Format    int             `json:"format"`
	RunID     string          `json:"run_id"`
	Alias     string          `json:"alias"`
	Epoch     int             `json:"epoch"`
	Config    model.Config    `json:"config"`
	State     model.StateDict `json:"state"`
	Metrics   Metrics         `json:"metrics"`
	IDMap     *core.IDMap     `json:"id_map,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New 从当前模型参数创建制品（深拷贝参数）。
func New(m model.Model, runID, alias string, epoch int, metrics Metrics) *Checkpoint {
	return &Checkpoint{
		Format:    FormatVersion,
		RunID:     runID,
		Alias:     alias,
		Epoch:     epoch,
		Config:    m.Config(),
		State:     model.StateOf(m),
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
}

// Key 返回制品名：{alias}_Epoch{e}_HR{hr:.4f}_NDCG{ndcg:.4f}.model
func Key(alias string, epoch int, hitRatio, ndcg float64) string {
	return fmt.Sprintf("%s_Epoch%d_HR%.4f_NDCG%.4f.model", alias, epoch, hitRatio, ndcg)
}

// Key 返回该制品的存储 key。
func (c *Checkpoint) Key() string {
	return Key(c.Alias, c.Epoch, c.Metrics.HitRatio, c.Metrics.NDCG)
}

// Restore 重建模型。
func (c *Checkpoint) Restore() (model.Model, error) {
	return model.Restore(c.Config, c.State)
}

// Snapshot 重建模型并包装为在线快照。
func (c *Checkpoint) Snapshot() (*model.Snapshot, error) {
	m, err := c.Restore()
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{
		Model:    m,
		IDMap:    c.IDMap,
		Version:  c.Key(),
		LoadedAt: time.Now(),
	}, nil
}

// Encode 把制品编码为 gzip 压缩的 JSON。
func Encode(c *Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(c); err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("checkpoint: gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode 解码制品并校验格式版本。
func Decode(data []byte) (*Checkpoint, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleCheckpoint, core.ErrorCodeDataIntegrity, "checkpoint: not a gzip artifact", err)
	}
	defer zr.Close()

	var c Checkpoint
	if err := json.NewDecoder(zr).Decode(&c); err != nil {
		return nil, core.WrapDomainError(core.ModuleCheckpoint, core.ErrorCodeDataIntegrity, "checkpoint: decode", err)
	}
	if c.Format != FormatVersion {
		return nil, core.DataIntegrityErrorf(core.ModuleCheckpoint, "checkpoint: unsupported format %d", c.Format)
	}
	return &c, nil
}

// Save 编码并写入存储，返回 key。存储失败包装为 EXTERNAL 错误。
func Save(ctx context.Context, store core.BlobStore, c *Checkpoint) (string, error) {
	data, err := Encode(c)
	if err != nil {
		return "", err
	}
	key := c.Key()
	if err := store.Put(ctx, key, data); err != nil {
		return "", core.ExternalError(core.ModuleCheckpoint, "checkpoint: put "+key+" to "+store.Name(), err)
	}
	return key, nil
}

// Load 从存储读取并解码制品。
func Load(ctx context.Context, store core.BlobStore, key string) (*Checkpoint, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, err
		}
		return nil, core.ExternalError(core.ModuleCheckpoint, "checkpoint: get "+key+" from "+store.Name(), err)
	}
	return Decode(data)
}

// Promote 把指定制品复制为 LatestKey，供在线服务重载。
func Promote(ctx context.Context, store core.BlobStore, key string) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return core.ExternalError(core.ModuleCheckpoint, "checkpoint: get "+key, err)
	}
	if err := store.Put(ctx, LatestKey, data); err != nil {
		return core.ExternalError(core.ModuleCheckpoint, "checkpoint: promote "+key, err)
	}
	return nil
}

// NotFound 构造制品不存在的错误。
func NotFound(key string) error {
	return core.NewDomainError(core.ModuleCheckpoint, core.ErrorCodeNotFound, "checkpoint: "+key+" not found")
}
