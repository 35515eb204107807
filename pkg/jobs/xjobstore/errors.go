package xjobstore

import "errors"

var (
	// ErrNilClient 后端客户端为空。
	ErrNilClient = errors.New("xjobstore: nil client")

	// errWriteConflict 单次比较写入失败，记录在读取后被他人修改。
	errWriteConflict = errors.New("xjobstore: write conflict")

	errDecode = errors.New("xjobstore: decode job")
)
