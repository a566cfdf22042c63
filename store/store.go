// Package store 提供 core.Store 的实现，供 embedding 来源与附加过滤策略共用：
//   - MemoryStore：进程内，支持 TTL，用于测试与单机部署
//   - RedisStore：生产环境，embedding 由上游编码服务写入 post:emb:{post_id}
//
// 两者对缺失 key 都返回 core.ErrStoreNotFound。
package store
