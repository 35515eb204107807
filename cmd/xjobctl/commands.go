package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xjob/internal/bootstrap"
	"github.com/omeyang/xjob/pkg/config/xconf"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// exitError 表示需要非零退出码但已完成输出的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// cliUsageMarkers urfave/cli 与 flag 包参数错误的消息特征。
var cliUsageMarkers = []string{
	"flag provided but not defined",
	"flag needs an argument",
	"invalid value",
	"required flag",
	"no help topic",
	"command not found",
}

// isCLIUsageError 判断错误是否为 CLI 框架产生的参数错误。
func isCLIUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range cliUsageMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (r *runner) createCommands() []*cli.Command {
	return []*cli.Command{
		r.createNodeCommand(),
		r.createJobCommand(),
		r.createLockCommand(),
	}
}

// loadConfig 读取配置文件，path 为空时使用默认配置，返回的 *xconf.Config 为 nil。
func loadConfig(path string) (bootstrap.Config, *xconf.Config, error) {
	if path == "" {
		cfg, err := bootstrap.Load(nil)
		return cfg, nil, err
	}
	xc, err := xconf.New(path)
	if err != nil {
		return bootstrap.Config{}, nil, err
	}
	cfg, err := bootstrap.Load(xc)
	if err != nil {
		return bootstrap.Config{}, nil, err
	}
	return cfg, xc, nil
}

// withApp 在命令超时内装配组件并执行 fn。管理命令的日志只输出 warn 以上到 stderr。
func (r *runner) withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *bootstrap.App) error) (err error) {
	cfg, _, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	if timeout := cmd.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger, cleanup, err := xlog.New().SetOutput(r.stderr).SetLevel(xlog.LevelWarn).Build()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, cleanup()) }()

	opts := append([]bootstrap.Option{bootstrap.WithLogger(logger)}, r.opts...)
	app, err := bootstrap.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, app.Close(context.WithoutCancel(ctx))) }()
	return fn(ctx, app)
}

// requireArg 返回第一个位置参数，缺失时返回 usageError。
func requireArg(cmd *cli.Command, name string) (string, error) {
	arg := strings.TrimSpace(cmd.Args().First())
	if arg == "" {
		return "", usagef("%s 命令需要指定 <%s>", cmd.FullName(), name)
	}
	return arg, nil
}

// parseStatuses 解析 --status 取值，未知状态返回 usageError。
func parseStatuses(values []string) ([]xjob.Status, error) {
	statuses := make([]xjob.Status, 0, len(values))
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := xjob.ParseStatus(part)
			if err != nil {
				return nil, usagef("未知状态 %q", part)
			}
			statuses = append(statuses, st)
		}
	}
	return statuses, nil
}

// parseParams 解析 key=value 形式的 --param。
func parseParams(values []string) (map[string]string, error) {
	params := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, usagef("参数 %q 应为 key=value", v)
		}
		params[strings.TrimSpace(key)] = value
	}
	return params, nil
}
