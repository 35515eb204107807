package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xjob/internal/bootstrap"
	"github.com/omeyang/xjob/pkg/config/xconf"
	"github.com/omeyang/xjob/pkg/lifecycle/xrun"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// reloadDebounce 配置文件变更的合并窗口。
const reloadDebounce = 500 * time.Millisecond

func (r *runner) createNodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "调度节点",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "启动调度节点，阻塞直到收到 SIGINT/SIGTERM",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "节点标识，覆盖 node.id"},
					&cli.DurationFlag{Name: "poll-interval", Usage: "调度周期，覆盖 node.poll_interval"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.cmdNodeRun(ctx, cmd.String("config"), cmd.String("id"), cmd.Duration("poll-interval"))
				},
			},
		},
	}
}

// cmdNodeRun 运行节点直到 ctx 取消或收到信号。指定了配置文件时监听其变更并热加载。
func (r *runner) cmdNodeRun(ctx context.Context, path, id string, pollInterval time.Duration) (err error) {
	cfg, xc, err := loadConfig(path)
	if err != nil {
		return err
	}
	if id != "" {
		cfg.Node.ID = id
	}
	if pollInterval != 0 {
		cfg.Node.PollInterval = pollInterval
	}

	app, err := bootstrap.New(ctx, cfg, r.opts...)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, app.Close(context.WithoutCancel(ctx))) }()

	node, err := app.NewNode()
	if err != nil {
		return err
	}
	services := []xrun.Service{node}
	if xc != nil {
		w, err := xconf.NewWatcher(xc, app.ReloadFunc(node), reloadDebounce)
		if err != nil {
			return err
		}
		services = append(services, w)
	}

	err = xrun.RunServicesWithOptions(ctx,
		[]xrun.Option{xrun.WithLogger(app.Logger), xrun.WithName("xjobctl")},
		services...)

	st := node.Stats()
	app.Logger.Info(context.WithoutCancel(ctx), "node stopped",
		xlog.NodeID(node.ID()),
		slog.Int64("dispatched", st.Dispatched),
		slog.Int64("succeeded", st.Succeeded),
		slog.Int64("failed", st.Failed),
		slog.Int64("orphans", st.Orphans),
	)
	if errors.Is(err, xrun.ErrSignal) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
