package xconf

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce 默认防抖时间。
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc 重载完成后的回调，err 非 nil 表示重载失败且旧配置仍生效。
type ReloadFunc func(ctx context.Context, cfg *Config, err error)

// Watcher 监视配置文件并在变更后重载。
type Watcher struct {
	cfg      *Config
	onReload ReloadFunc
	debounce time.Duration
}

// NewWatcher 创建监视器，debounce <= 0 时使用 DefaultDebounce。
func NewWatcher(cfg *Config, onReload ReloadFunc, debounce time.Duration) (*Watcher, error) {
	if cfg == nil || cfg.path == "" {
		return nil, ErrNotReloadable
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{cfg: cfg, onReload: onReload, debounce: debounce}, nil
}

// Name 服务名称。
func (w *Watcher) Name() string { return "config-watcher" }

// Run 阻塞监视直到 ctx 取消，返回时不会再有回调执行。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("xconf: create watcher: %w", err)
	}
	defer fw.Close()

	// 监视目录而非文件：rename 式保存会替换 inode
	dir := filepath.Dir(w.cfg.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("xconf: watch %s: %w", dir, err)
	}
	filename := filepath.Base(w.cfg.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filename {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.notify(ctx, fmt.Errorf("xconf: watch error: %w", err))
		case <-timer.C:
			w.notify(ctx, w.cfg.Reload())
		}
	}
}

func (w *Watcher) notify(ctx context.Context, err error) {
	if w.onReload != nil {
		w.onReload(ctx, w.cfg, err)
	}
}
