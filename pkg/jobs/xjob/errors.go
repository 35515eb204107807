package xjob

import "errors"

var (
	// ErrJobNotFound 作业不存在。
	ErrJobNotFound = errors.New("xjob: job not found")

	// ErrJobExists 作业 ID 已存在。
	ErrJobExists = errors.New("xjob: job already exists")

	// ErrInvalidTransition 非法状态转换，包括离开终态。
	ErrInvalidTransition = errors.New("xjob: invalid status transition")

	// ErrInvalidStatus 未知状态值。
	ErrInvalidStatus = errors.New("xjob: invalid status")

	// ErrInvalidJob 作业字段不合法（如 jobKey 为空）。
	ErrInvalidJob = errors.New("xjob: invalid job")

	// ErrStoreUnavailable 存储不可达，可重试。
	ErrStoreUnavailable = errors.New("xjob: store unavailable")

	// ErrConflict 乐观并发写入在重试后仍冲突。
	ErrConflict = errors.New("xjob: concurrent modification")

	// ErrStatusUnreachable 作业已进入另一个终态，等待的状态不会出现。
	ErrStatusUnreachable = errors.New("xjob: status unreachable")
)
