package bootstrap

import "errors"

var (
	// ErrInvalidConfig 配置校验失败。
	ErrInvalidConfig = errors.New("bootstrap: invalid config")

	// ErrUnsupportedBackend 未知的后端类型。
	ErrUnsupportedBackend = errors.New("bootstrap: unsupported backend")
)
