package xctx

import "context"

// Job Key 常量（日志字段名）
const (
	KeyNodeID = "node_id"
	KeyJobID  = "job_id"
	KeyJobKey = "job_key"
)

const (
	keyNodeID = contextKey("xctx:node_id")
	keyJobID  = contextKey("xctx:job_id")
	keyJobKey = contextKey("xctx:job_key")
)

// WithNodeID 将调度节点身份注入 context
func WithNodeID(ctx context.Context, nodeID string) (context.Context, error) {
	return withString(ctx, keyNodeID, nodeID)
}

// NodeID 从 context 提取节点身份，不存在返回空字符串
func NodeID(ctx context.Context) string { return stringValue(ctx, keyNodeID) }

// WithJobID 将作业 ID 注入 context
func WithJobID(ctx context.Context, jobID string) (context.Context, error) {
	return withString(ctx, keyJobID, jobID)
}

// JobID 从 context 提取作业 ID，不存在返回空字符串
func JobID(ctx context.Context) string { return stringValue(ctx, keyJobID) }

// WithJobKey 将作业锁作用域注入 context
func WithJobKey(ctx context.Context, jobKey string) (context.Context, error) {
	return withString(ctx, keyJobKey, jobKey)
}

// JobKey 从 context 提取作业锁作用域，不存在返回空字符串
func JobKey(ctx context.Context) string { return stringValue(ctx, keyJobKey) }

// WithJob 一次性注入 job_id 与 job_key。
func WithJob(ctx context.Context, jobID, jobKey string) (context.Context, error) {
	ctx, err := WithJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return WithJobKey(ctx, jobKey)
}
