package xetcd

import "errors"

// 错误定义。
var (
	// ErrNilConfig 配置为空。
	ErrNilConfig = errors.New("xetcd: config is nil")

	// ErrNoEndpoints 未配置 etcd 端点。
	ErrNoEndpoints = errors.New("xetcd: no endpoints configured")

	// ErrInvalidEndpoint endpoint 格式无效，应为 host:port。
	ErrInvalidEndpoint = errors.New("xetcd: invalid endpoint format, expected host:port")

	// ErrInvalidTLS 证书配置不完整或无法加载。
	ErrInvalidTLS = errors.New("xetcd: invalid tls config")

	// ErrKeyNotFound 键不存在。
	ErrKeyNotFound = errors.New("xetcd: key not found")

	// ErrKeyExists Create 时键已存在。
	ErrKeyExists = errors.New("xetcd: key already exists")

	// ErrRevisionMismatch CompareAndSwap 时 ModRevision 已变化。
	ErrRevisionMismatch = errors.New("xetcd: revision mismatch")

	// ErrClientClosed 客户端已关闭。
	ErrClientClosed = errors.New("xetcd: client is closed")

	// ErrEmptyKey 键名为空。
	ErrEmptyKey = errors.New("xetcd: key is empty")

	// ErrNilContext context 为 nil。
	ErrNilContext = errors.New("xetcd: nil context")
)

// IsKeyNotFound 检查错误是否为键不存在。
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
