// xjobctl 是 xjob 调度节点与作业存储的命令行工具。
//
// 用法:
//
//	xjobctl [全局选项] <命令> [子命令] [参数]
//
// 全局选项:
//
//	-c, --config   配置文件路径（YAML/JSON，也可通过 XJOB_CONFIG 指定），为空时使用默认配置
//	-t, --timeout  单条命令超时时间 (默认: 30s)，对 node run 与 job wait 无效
//
// 命令:
//
//	node run                      启动调度节点，收到 SIGINT/SIGTERM 后释放全部锁退出
//	job submit <key>              提交作业，输出作业 ID
//	job get <id>                  查看作业
//	job list                      列出作业（--status 可重复，--key 过滤）
//	job stop <id>                 请求停止作业
//	job discard <id>              放弃作业
//	job delete <id>               删除作业记录
//	job wait <id>                 等待作业进入指定状态或任一终态
//	lock owner <key>              查看 jobKey 的锁持有者
//	lock list                     列出当前被持有的锁
//	lock release <key> --node     以指定节点身份释放锁，仅在该节点确认已停止时使用
//
// 退出码:
//
//	0: 命令执行成功
//	1: 命令执行失败、等待的状态不可达或锁未被持有
//	2: 参数错误（缺少参数、未知状态、未知命令等）
//
// 示例:
//
//	xjobctl -c /etc/xjob.yaml node run
//	xjobctl job submit cube-42 --type exec --param command="make build"
//	xjobctl job wait 01J9Z... --status SUCCEED --timeout 10m
//	xjobctl job list --status RUNNING --json
//	xjobctl lock list
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xjob/internal/bootstrap"
)

// defaultTimeout 默认命令超时时间。
const defaultTimeout = 30 * time.Second

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	code := run(ctx, newRunner(os.Stdout, os.Stderr), os.Args)
	cancel()
	os.Exit(code)
}

// runner 持有命令的输出目标与装配选项，测试通过它注入进程内后端。
type runner struct {
	stdout io.Writer
	stderr io.Writer
	opts   []bootstrap.Option
}

func newRunner(stdout, stderr io.Writer, opts ...bootstrap.Option) *runner {
	return &runner{stdout: stdout, stderr: stderr, opts: opts}
}

// createApp 创建 CLI 应用。
func (r *runner) createApp() *cli.Command {
	return &cli.Command{
		Name:    "xjobctl",
		Usage:   "xjob 分布式作业调度命令行工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（YAML/JSON）",
				Sources: cli.EnvVars("XJOB_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "命令超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands:       r.createCommands(),
		Writer:         r.stdout,
		ErrWriter:      r.stderr,
		DefaultCommand: "help",
		// 禁止 urfave/cli 直接调用 os.Exit，由 run 统一映射退出码
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(r.stderr, err)
			}
		},
	}
}

// run 执行命令并返回退出码。
func run(ctx context.Context, r *runner, args []string) int {
	err := r.createApp().Run(ctx, args)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(r.stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		return 2
	}
	fmt.Fprintf(r.stderr, "错误: %v\n", err)
	return 1
}
