package xlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrEmptyFilename 轮转文件名为空
var ErrEmptyFilename = errors.New("xlog: empty rotation filename")

// RotationConfig 文件轮转配置，零值字段使用 lumberjack 默认值。
type RotationConfig struct {
	MaxSizeMB  int  `json:"max_size_mb" yaml:"max_size_mb" koanf:"max_size_mb"`
	MaxBackups int  `json:"max_backups" yaml:"max_backups" koanf:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days" koanf:"max_age_days"`
	Compress   bool `json:"compress" yaml:"compress" koanf:"compress"`
	LocalTime  bool `json:"local_time" yaml:"local_time" koanf:"local_time"`
}

// Builder 日志配置构建器
type Builder struct {
	output       io.Writer
	levelVar     *slog.LevelVar
	format       string
	addSource    bool
	enableEnrich bool
	attrs        []slog.Attr
	rotator      *lumberjack.Logger
	err          error
}

// New 创建配置构建器：stderr、Info 级别、text 格式、启用 enrich。
func New() *Builder {
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	return &Builder{
		output:       os.Stderr,
		levelVar:     levelVar,
		format:       "text",
		enableEnrich: true,
	}
}

// SetOutput 设置日志输出目标
func (b *Builder) SetOutput(w io.Writer) *Builder {
	if b.err == nil && w != nil {
		b.output = w
	}
	return b
}

// SetLevel 设置日志级别
func (b *Builder) SetLevel(level Level) *Builder {
	if b.err == nil {
		b.levelVar.Set(slog.Level(level))
	}
	return b
}

// SetLevelString 通过字符串设置日志级别
func (b *Builder) SetLevelString(s string) *Builder {
	if b.err != nil {
		return b
	}
	level, err := ParseLevel(s)
	if err != nil {
		b.err = err
		return b
	}
	return b.SetLevel(level)
}

// SetFormat 设置输出格式：text 或 json，空值视为 text。
func (b *Builder) SetFormat(format string) *Builder {
	if b.err != nil {
		return b
	}
	normalized := strings.ToLower(strings.TrimSpace(format))
	switch normalized {
	case "":
		b.format = "text"
	case "text", "json":
		b.format = normalized
	default:
		b.err = fmt.Errorf("xlog: unknown format %q", format)
	}
	return b
}

// SetAddSource 是否在日志中添加源码位置
func (b *Builder) SetAddSource(enable bool) *Builder {
	b.addSource = enable
	return b
}

// SetEnrich 是否从 context 自动注入 trace 与作业字段
func (b *Builder) SetEnrich(enable bool) *Builder {
	b.enableEnrich = enable
	return b
}

// SetAttrs 添加每条日志都携带的固定属性（如 node_id）。
func (b *Builder) SetAttrs(attrs ...slog.Attr) *Builder {
	b.attrs = append(b.attrs, attrs...)
	return b
}

// SetRotation 输出到按大小轮转的文件
func (b *Builder) SetRotation(filename string, cfg RotationConfig) *Builder {
	if b.err != nil {
		return b
	}
	if strings.TrimSpace(filename) == "" {
		b.err = ErrEmptyFilename
		return b
	}
	b.rotator = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}
	b.output = b.rotator
	return b
}

// Build 构建 Logger 实例
//
// 返回的 cleanup 函数用于关闭轮转文件，可重复调用。
func (b *Builder) Build() (LoggerWithLevel, func() error, error) {
	if b.err != nil {
		return nil, nil, b.err
	}

	opts := &slog.HandlerOptions{Level: b.levelVar, AddSource: b.addSource}

	var handler slog.Handler
	if b.format == "json" {
		handler = slog.NewJSONHandler(b.output, opts)
	} else {
		handler = slog.NewTextHandler(b.output, opts)
	}
	if b.enableEnrich {
		handler = &EnrichHandler{base: handler}
	}
	if len(b.attrs) > 0 {
		handler = handler.WithAttrs(b.attrs)
	}

	var once sync.Once
	rotator := b.rotator
	cleanup := func() error {
		var err error
		once.Do(func() {
			if rotator != nil {
				err = rotator.Close()
			}
		})
		return err
	}

	return &xlogger{handler: handler, levelVar: b.levelVar}, cleanup, nil
}
