package xlog

import (
	"log/slog"
	"time"

	"github.com/omeyang/xjob/pkg/context/xctx"
)

// 常用属性 Key 常量
const (
	KeyError     = "error"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyStatus    = "status"
	KeyOwner     = "owner"
	KeyPath      = "path"

	// 与 xctx 保持一致
	KeyNodeID = xctx.KeyNodeID
	KeyJobID  = xctx.KeyJobID
	KeyJobKey = xctx.KeyJobKey
)

// Err 创建错误属性，err 为 nil 时返回空属性（会被 slog 忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 人类可读的耗时（如 "1.5s"）
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 组件名
func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }

// Operation 操作名
func Operation(name string) slog.Attr { return slog.String(KeyOperation, name) }

// Count 计数
func Count(n int) slog.Attr { return slog.Int(KeyCount, n) }

// NodeID 调度节点身份
func NodeID(id string) slog.Attr { return slog.String(KeyNodeID, id) }

// JobID 作业 ID
func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }

// JobKey 作业锁作用域
func JobKey(key string) slog.Attr { return slog.String(KeyJobKey, key) }

// Status 作业状态
func Status(s string) slog.Attr { return slog.String(KeyStatus, s) }

// Owner 锁持有者
func Owner(node string) slog.Attr { return slog.String(KeyOwner, node) }

// Path 协调服务路径
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
