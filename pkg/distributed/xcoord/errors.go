package xcoord

import "errors"

var (
	// ErrNodeExists 创建临时节点时路径已存在。
	ErrNodeExists = errors.New("xcoord: node already exists")

	// ErrNoNode 节点不存在。
	ErrNoNode = errors.New("xcoord: node does not exist")

	// ErrUnavailable 协调服务不可达或请求超时。
	// 对写操作而言，返回此错误时操作可能已经生效。
	ErrUnavailable = errors.New("xcoord: coordination service unavailable")

	// ErrSessionExpired 会话已过期，其创建的节点均已删除。
	ErrSessionExpired = errors.New("xcoord: session expired")

	// ErrClosed 客户端已关闭。
	ErrClosed = errors.New("xcoord: client closed")

	// ErrWatchUnsupported 后端不支持 Watch，调用方应退回轮询。
	ErrWatchUnsupported = errors.New("xcoord: watch not supported")

	// ErrEmptyPath 路径为空。
	ErrEmptyPath = errors.New("xcoord: empty path")

	// ErrNilClient 底层客户端为 nil。
	ErrNilClient = errors.New("xcoord: nil client")
)

// IsUnavailable 判断错误是否表示协调服务不可用（包括会话过期）。
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrSessionExpired)
}
