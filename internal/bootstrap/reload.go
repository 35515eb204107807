package bootstrap

import (
	"context"
	"time"

	"github.com/omeyang/xjob/pkg/config/xconf"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// PollIntervalSetter 运行中可调整调度周期的对象，*xsched.Node 实现此接口。
type PollIntervalSetter interface {
	SetPollInterval(d time.Duration)
}

// ReloadFunc 返回配置文件变更回调：重新校验后应用 log.level 与 node.poll_interval。
// 新配置不合法时保留当前设置。其余字段的变化只记录日志，重启后生效。
func (a *App) ReloadFunc(node PollIntervalSetter) xconf.ReloadFunc {
	return func(ctx context.Context, cfg *xconf.Config, err error) {
		if err != nil {
			a.Logger.Warn(ctx, "config reload failed, keeping current settings", xlog.Err(err))
			return
		}
		next, err := Load(cfg)
		if err != nil {
			a.Logger.Warn(ctx, "reloaded config rejected", xlog.Err(err))
			return
		}

		level, _ := xlog.ParseLevel(next.Log.Level)
		if level != a.Logger.GetLevel() {
			a.Logger.SetLevel(level)
			a.Logger.Info(ctx, "log level changed", xlog.Status(level.String()))
		}
		if node != nil && next.Node.PollInterval != a.Config.Node.PollInterval {
			node.SetPollInterval(next.Node.PollInterval)
			a.Logger.Info(ctx, "poll interval changed", xlog.Duration(next.Node.PollInterval))
		}
		a.Config.Log.Level = next.Log.Level
		a.Config.Node.PollInterval = next.Node.PollInterval
	}
}
