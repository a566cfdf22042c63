package feature

import (
	"context"
	"fmt"
	"strings"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/goccy/go-json"

	"github.com/rushteam/mmrec/core"
)

// FeastConfig 是 Feast 在线特征服务配置。
type FeastConfig struct {
	Host    string `json:"host" yaml:"host" koanf:"host"`
	Port    int    `json:"port" yaml:"port" koanf:"port"`
	Project string `json:"project" yaml:"project" koanf:"project"`
	// Entity 是帖子实体名，默认 post_id
	Entity string `json:"entity" yaml:"entity" koanf:"entity"`
	// ImageFeature / TextFeature 是 feature_view:feature 形式的特征引用
	ImageFeature string `json:"image_feature" yaml:"image_feature" koanf:"image_feature"`
	TextFeature  string `json:"text_feature" yaml:"text_feature" koanf:"text_feature"`
	Token        string `json:"token" yaml:"token" koanf:"token"`
}

// OnlineClient 是 Feast 在线特征查询的最小接口，*feastsdk.GrpcClient 满足该接口。
type OnlineClient interface {
	GetOnlineFeatures(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) (*feastsdk.OnlineFeaturesResponse, error)
}

// FeastSource 从 Feast 在线存储读取帖子的图像与文本 embedding。
//
// 特征值支持 double_list / float_list，或 JSON 数组字符串。
type FeastSource struct {
	client OnlineClient
	cfg    FeastConfig
	// rows 把 SDK 响应展开为行，测试中可替换
	rows func(*feastsdk.OnlineFeaturesResponse) []feastsdk.Row
}

// NewFeastSource 连接 Feast gRPC 服务。
func NewFeastSource(cfg FeastConfig) (*FeastSource, error) {
	if cfg.Port == 0 {
		cfg.Port = 6565
	}
	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if cfg.Token != "" {
		client, err = feastsdk.NewSecureGrpcClient(cfg.Host, cfg.Port, feastsdk.SecurityConfig{
			Credential: feastsdk.NewStaticCredential(cfg.Token),
		})
	} else {
		client, err = feastsdk.NewGrpcClient(cfg.Host, cfg.Port)
	}
	if err != nil {
		return nil, core.ExternalError(core.ModuleFeature, fmt.Sprintf("feature: connect feast %s:%d", cfg.Host, cfg.Port), err)
	}
	return NewFeastSourceFromClient(client, cfg), nil
}

// NewFeastSourceFromClient 包装已有客户端。
func NewFeastSourceFromClient(client OnlineClient, cfg FeastConfig) *FeastSource {
	if cfg.Entity == "" {
		cfg.Entity = "post_id"
	}
	return &FeastSource{
		client: client,
		cfg:    cfg,
		rows:   func(r *feastsdk.OnlineFeaturesResponse) []feastsdk.Row { return r.Rows() },
	}
}

func (s *FeastSource) Name() string { return "feast" }

func (s *FeastSource) GetEmbedding(ctx context.Context, itemID int64) (*core.Embedding, error) {
	got, err := s.BatchGetEmbeddings(ctx, []int64{itemID})
	if err != nil {
		return nil, err
	}
	emb, ok := got[itemID]
	if !ok {
		return nil, notFound(itemID)
	}
	return emb, nil
}

func (s *FeastSource) BatchGetEmbeddings(ctx context.Context, itemIDs []int64) (map[int64]*core.Embedding, error) {
	out := make(map[int64]*core.Embedding, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	entities := make([]feastsdk.Row, len(itemIDs))
	for i, id := range itemIDs {
		entities[i] = feastsdk.Row{s.cfg.Entity: feastsdk.Int64Val(id)}
	}
	resp, err := s.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: []string{s.cfg.ImageFeature, s.cfg.TextFeature},
		Entities: entities,
		Project:  s.cfg.Project,
	})
	if err != nil {
		return nil, core.ExternalError(core.ModuleFeature, "feature: feast online features", err)
	}
	rows := s.rows(resp)
	if len(rows) != len(itemIDs) {
		return nil, core.ExternalError(core.ModuleFeature, "feature: feast online features",
			fmt.Errorf("response has %d rows for %d entities", len(rows), len(itemIDs)))
	}

	for i, row := range rows {
		image, err := vector(row, s.cfg.ImageFeature)
		if err != nil {
			return nil, core.DataIntegrityErrorf(core.ModuleFeature, "feature: post %d: %v", itemIDs[i], err)
		}
		text, err := vector(row, s.cfg.TextFeature)
		if err != nil {
			return nil, core.DataIntegrityErrorf(core.ModuleFeature, "feature: post %d: %v", itemIDs[i], err)
		}
		if len(image) == 0 || len(text) == 0 {
			continue
		}
		out[itemIDs[i]] = &core.Embedding{Image: image, Text: text}
	}
	return out, nil
}

// vector 取出一个列表特征。SDK 响应的列名可能是完整引用，也可能只是特征名。
func vector(row feastsdk.Row, ref string) ([]float64, error) {
	val, ok := row[ref]
	if !ok {
		if i := strings.LastIndex(ref, ":"); i >= 0 {
			val, ok = row[ref[i+1:]]
		}
	}
	if !ok || val == nil {
		return nil, nil
	}
	if d := val.GetDoubleListVal().GetVal(); len(d) > 0 {
		return d, nil
	}
	if f := val.GetFloatListVal().GetVal(); len(f) > 0 {
		out := make([]float64, len(f))
		for i, v := range f {
			out[i] = float64(v)
		}
		return out, nil
	}
	if s := val.GetStringVal(); s != "" {
		var out []float64
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("feature %s is not a JSON vector: %w", ref, err)
		}
		return out, nil
	}
	return nil, nil
}

var _ core.EmbeddingSource = (*FeastSource)(nil)
