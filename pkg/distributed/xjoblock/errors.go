package xjoblock

import "errors"

var (
	// ErrCoordinationUnavailable 协调服务不可用。调用方不应假定持有任何锁。
	ErrCoordinationUnavailable = errors.New("xjoblock: coordination unavailable")

	// ErrAmbiguousAcquisition 获取结果未知且无法核实持有者。
	ErrAmbiguousAcquisition = errors.New("xjoblock: acquisition outcome unknown")

	// ErrStaleRelease 释放时锁已不属于该持有者。
	ErrStaleRelease = errors.New("xjoblock: lock no longer owned")

	// ErrInvalidKey jobKey 为空或包含 "/"。
	ErrInvalidKey = errors.New("xjoblock: invalid job key")

	// ErrInvalidNode 节点标识为空。
	ErrInvalidNode = errors.New("xjoblock: empty node id")

	// ErrNilClient 协调客户端为 nil。
	ErrNilClient = errors.New("xjoblock: nil coordination client")
)
