// Package mmrec 是多模态社交推荐系统：离线训练 GMF / MLP / NeuMF / 多模态 NeuMF，
// 在线为用户生成个性化时间线。
//
// 组成：
//   - sample、nn、model、engine、checkpoint：交互采样、训练、评估与制品
//   - database：从应用后端的关系库抽取交互日志与候选帖子
//   - feature、store：候选内容 embedding 的来源与缓存
//   - pipeline、rank、filter、rerank、timeline：在线打分、过滤、排序、分页
//   - server：HTTP 服务与模型热更新
//
// 可执行程序见 cmd/mmrec-train 与 cmd/mmrec-server。
package mmrec
