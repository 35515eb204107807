package xrun

import (
	"errors"
	"fmt"
	"os"
)

// ErrSignal 表示因收到系统信号而终止，使用 errors.Is 判断。
var ErrSignal = errors.New("received signal")

// ErrNilFunc 表示传入的服务函数为 nil。
var ErrNilFunc = errors.New("xrun: nil function")

// SignalError 包含触发终止的具体信号。
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	if e.Signal == nil {
		return "received signal <nil>"
	}
	return fmt.Sprintf("received signal %s", e.Signal)
}

// Is 支持 errors.Is(err, ErrSignal)。
func (e *SignalError) Is(target error) bool { return target == ErrSignal }

// Unwrap 返回 ErrSignal。
func (e *SignalError) Unwrap() error { return ErrSignal }
