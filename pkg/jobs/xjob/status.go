package xjob

import (
	"fmt"
	"strings"
)

// Status 作业状态。
type Status string

// 作业状态。
const (
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusSucceed   Status = "SUCCEED"
	StatusError     Status = "ERROR"
	StatusStopped   Status = "STOPPED"
	StatusDiscarded Status = "DISCARDED"
)

// AllStatuses 返回全部状态。
func AllStatuses() []Status {
	return []Status{StatusReady, StatusRunning, StatusSucceed, StatusError, StatusStopped, StatusDiscarded}
}

var transitions = map[Status][]Status{
	StatusReady:   {StatusRunning, StatusStopped, StatusDiscarded},
	StatusRunning: {StatusSucceed, StatusError, StatusStopped, StatusDiscarded},
}

// IsTerminal 是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceed, StatusError, StatusStopped, StatusDiscarded:
		return true
	default:
		return false
	}
}

// Valid 是否为已知状态。
func (s Status) Valid() bool {
	return s == StatusReady || s == StatusRunning || s.IsTerminal()
}

func (s Status) String() string { return string(s) }

// ParseStatus 解析状态，不区分大小写。
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// CanTransition 判断 from → to 是否合法。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition 非法时返回包装了 ErrInvalidTransition 的错误。
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
