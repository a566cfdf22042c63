package core

// 训练与评估的默认参数。
const (
	// DefaultEvalNegatives 是每个用户固定的评估负样本数
	DefaultEvalNegatives = 99

	// DefaultTopK 是 HR@K / NDCG@K 的 K
	DefaultTopK = 10

	// DefaultNumNegatives 是每个正样本的训练负样本数
	DefaultNumNegatives = 4

	// DefaultBatchSize 是训练与分块评估的批大小
	DefaultBatchSize = 512
)
