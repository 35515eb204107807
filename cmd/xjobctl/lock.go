package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xjob/internal/bootstrap"
	"github.com/omeyang/xjob/pkg/util/xjson"
)

func (r *runner) createLockCommand() *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "执行锁查看与运维",
		Commands: []*cli.Command{
			{
				Name:      "owner",
				Usage:     "查看 jobKey 的锁持有者，未被持有时退出码为 1",
				ArgsUsage: "<key>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					key, err := requireArg(cmd, "key")
					if err != nil {
						return err
					}
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						owner, held, err := app.Locker.Owner(ctx, key)
						if err != nil {
							return err
						}
						if !held {
							fmt.Fprintf(r.stdout, "%s: not held\n", key)
							return &exitError{code: 1}
						}
						fmt.Fprintln(r.stdout, owner)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "列出当前被持有的锁",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						holders, err := app.Locker.Holders(ctx)
						if err != nil {
							return err
						}
						if cmd.Bool("json") {
							return xjson.Write(r.stdout, holders)
						}
						tw := tabwriter.NewWriter(r.stdout, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "KEY\tOWNER")
						for _, key := range slices.Sorted(maps.Keys(holders)) {
							fmt.Fprintf(tw, "%s\t%s\n", key, holders[key])
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "release",
				Usage:     "以 --node 的身份释放锁，只在该节点确认已停止时使用",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "node", Usage: "锁持有节点", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					key, err := requireArg(cmd, "key")
					if err != nil {
						return err
					}
					node := cmd.String("node")
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						owner, held, err := app.Locker.Owner(ctx, key)
						if err != nil {
							return err
						}
						if !held || owner != node {
							fmt.Fprintf(r.stdout, "%s: not held by %s\n", key, node)
							return &exitError{code: 1}
						}
						if err := app.Locker.Release(ctx, key, node); err != nil {
							return err
						}
						fmt.Fprintf(r.stdout, "%s: released\n", key)
						return nil
					})
				},
			},
		},
	}
}
