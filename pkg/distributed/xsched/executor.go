package xsched

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

// 内置执行器类型。
const (
	TypeNoop  = "noop"
	TypeSleep = "sleep"
	TypeExec  = "exec"
)

// 内置执行器参数。
const (
	ParamDuration = "duration"
	ParamCommand  = "command"
)

// execOutputLimit 命令失败时错误信息中保留的输出尾部字节数。
const execOutputLimit = 512

// Executor 执行一个作业。
//
// ctx 被取消时应尽快返回；返回 nil 表示成功。
type Executor interface {
	Execute(ctx context.Context, job *xjob.Job) error
}

// ExecutorFunc 函数适配器。
type ExecutorFunc func(ctx context.Context, job *xjob.Job) error

// Execute 调用 f。
func (f ExecutorFunc) Execute(ctx context.Context, job *xjob.Job) error { return f(ctx, job) }

// Registry 按作业类型分派执行器，并发安全。
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

var _ Executor = (*Registry)(nil)

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// DefaultRegistry 创建包含 noop、sleep、exec 的注册表。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeNoop, Noop())
	r.Register(TypeSleep, Sleep())
	r.Register(TypeExec, Exec())
	return r
}

// Register 注册或替换执行器。
func (r *Registry) Register(typ string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[typ] = e
}

// Types 返回已注册的类型，按字典序。
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Execute 按 job.Type 分派。
func (r *Registry) Execute(ctx context.Context, job *xjob.Job) error {
	r.mu.RLock()
	e, ok := r.executors[job.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}
	return e.Execute(ctx, job)
}

// Noop 立即成功。
func Noop() Executor {
	return ExecutorFunc(func(context.Context, *xjob.Job) error { return nil })
}

// Sleep 等待参数 duration 指定的时长，可被取消。
func Sleep() Executor {
	return ExecutorFunc(func(ctx context.Context, job *xjob.Job) error {
		raw := job.Params[ParamDuration]
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: %s=%q", ErrInvalidParam, ParamDuration, raw)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	})
}

// Exec 通过 sh -c 执行参数 command，上下文取消时结束进程。
func Exec() Executor {
	return ExecutorFunc(func(ctx context.Context, job *xjob.Job) error {
		command := strings.TrimSpace(job.Params[ParamCommand])
		if command == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidParam, ParamCommand)
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.WaitDelay = time.Second
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("command failed: %w: %s", err, tail(out.Bytes(), execOutputLimit))
		}
		return nil
	})
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

// safeExecute 把执行器 panic 转为错误。
func safeExecute(ctx context.Context, e Executor, job *xjob.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return e.Execute(ctx, job)
}
