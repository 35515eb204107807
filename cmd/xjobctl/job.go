package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xjob/internal/bootstrap"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/util/xjson"
)

func (r *runner) createJobCommand() *cli.Command {
	jsonFlag := &cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"}
	return &cli.Command{
		Name:  "job",
		Usage: "作业管理",
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "提交作业，输出作业 ID",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "执行器类型", Value: xjob.DefaultType},
					&cli.StringFlag{Name: "name", Usage: "作业名称"},
					&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "执行参数 key=value，可重复"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					key, err := requireArg(cmd, "key")
					if err != nil {
						return err
					}
					params, err := parseParams(cmd.StringSlice("param"))
					if err != nil {
						return err
					}
					job, err := xjob.New(key,
						xjob.WithType(cmd.String("type")),
						xjob.WithName(cmd.String("name")),
						xjob.WithParams(params),
					)
					if err != nil {
						return &usageError{msg: err.Error()}
					}
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						if err := app.Store.CreateJob(ctx, job); err != nil {
							return err
						}
						fmt.Fprintln(r.stdout, job.ID)
						return nil
					})
				},
			},
			{
				Name:      "get",
				Usage:     "查看作业",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{jsonFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireArg(cmd, "id")
					if err != nil {
						return err
					}
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						job, err := app.Store.GetJob(ctx, id)
						if err != nil {
							return err
						}
						if cmd.Bool("json") {
							return xjson.Write(r.stdout, job)
						}
						printJob(r.stdout, job)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "列出作业，按创建时间排序",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Aliases: []string{"s"}, Usage: "只列出这些状态，可重复或逗号分隔"},
					&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "只列出该 jobKey"},
					jsonFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					statuses, err := parseStatuses(cmd.StringSlice("status"))
					if err != nil {
						return err
					}
					filter := xjob.Filter{Statuses: statuses, Key: cmd.String("key")}
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						jobs, err := app.Store.ListJobs(ctx, filter)
						if err != nil {
							return err
						}
						slices.SortFunc(jobs, xjob.CompareAge)
						if cmd.Bool("json") {
							if jobs == nil {
								jobs = []*xjob.Job{}
							}
							return xjson.Write(r.stdout, jobs)
						}
						printJobs(r.stdout, jobs)
						return nil
					})
				},
			},
			r.createTransitionCommand("stop", "请求停止作业，执行中的节点在下次检查时中止", xjob.StatusStopped),
			r.createTransitionCommand("discard", "放弃作业", xjob.StatusDiscarded),
			{
				Name:      "delete",
				Usage:     "删除作业记录",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireArg(cmd, "id")
					if err != nil {
						return err
					}
					return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
						return app.Store.DeleteJob(ctx, id)
					})
				},
			},
			{
				Name:      "wait",
				Usage:     "等待作业进入指定状态，未指定时等待任一终态",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "期望状态"},
					&cli.DurationFlag{Name: "interval", Usage: "轮询间隔", Value: xjob.DefaultWaitInterval},
					&cli.DurationFlag{Name: "wait-timeout", Usage: "等待上限，0 表示不限制"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireArg(cmd, "id")
					if err != nil {
						return err
					}
					var want xjob.Status
					if s := cmd.String("status"); s != "" {
						if want, err = xjob.ParseStatus(s); err != nil {
							return usagef("未知状态 %q", s)
						}
					}
					return r.cmdJobWait(ctx, cmd, id, want, cmd.Duration("interval"), cmd.Duration("wait-timeout"))
				},
			},
		},
	}
}

func (r *runner) createTransitionCommand(name, usage string, to xjob.Status) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "记录的原因"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireArg(cmd, "id")
			if err != nil {
				return err
			}
			return r.withApp(ctx, cmd, func(ctx context.Context, app *bootstrap.App) error {
				var opts []xjob.UpdateOption
				if msg := cmd.String("message"); msg != "" {
					opts = append(opts, xjob.WithMessage(msg))
				}
				job, err := app.Store.SetStatus(ctx, id, to, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(r.stdout, "%s %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

// cmdJobWait 等待作业状态。全局 --timeout 只限制装配，等待本身由 --wait-timeout 限制。
// 作业进入非期望的终态时输出作业并返回退出码 1。
func (r *runner) cmdJobWait(ctx context.Context, cmd *cli.Command, id string, want xjob.Status, interval, timeout time.Duration) error {
	return r.withApp(ctx, cmd, func(_ context.Context, app *bootstrap.App) error {
		wctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var (
			job *xjob.Job
			err error
		)
		if want == "" {
			job, err = xjob.WaitForTerminal(wctx, app.Store, id, interval)
		} else {
			job, err = xjob.WaitForStatus(wctx, app.Store, id, want, interval)
		}
		if errors.Is(err, xjob.ErrStatusUnreachable) {
			printJob(r.stdout, job)
			return &exitError{code: 1}
		}
		if err != nil {
			return err
		}
		printJob(r.stdout, job)
		return nil
	})
}

func printJob(w io.Writer, job *xjob.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("ID", job.ID)
	row("Key", job.Key)
	row("Name", job.Name)
	row("Type", job.Type)
	row("Status", job.Status.String())
	row("Node", job.Node)
	row("Message", job.Message)
	for _, k := range slices.Sorted(maps.Keys(job.Params)) {
		row("Param."+k, job.Params[k])
	}
	row("Created", formatTime(job.CreatedAt))
	row("Updated", formatTime(job.UpdatedAt))
	row("Started", formatTime(job.StartedAt))
	row("Finished", formatTime(job.FinishedAt))
	_ = tw.Flush()
}

func printJobs(w io.Writer, jobs []*xjob.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tTYPE\tSTATUS\tNODE\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.Key, j.Type, j.Status, orDash(j.Node), formatTime(j.CreatedAt))
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
