package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置格式。
type Format string

// 支持的格式。
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const (
	delim = "."
	tag   = "koanf"
)

// Config 一份已加载的配置。
type Config struct {
	k      atomic.Pointer[koanf.Koanf]
	path   string
	format Format
	mu     sync.Mutex // 串行化 Reload
}

// New 从文件加载配置，格式由扩展名（.yaml/.yml/.json）决定。
func New(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	c := &Config{path: path, format: format}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromBytes 从内存数据加载配置，空数据得到空配置。
func NewFromBytes(data []byte, format Format) (*Config, error) {
	k, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	c := &Config{format: format}
	c.k.Store(k)
	return c, nil
}

// Koanf 返回当前配置快照。
func (c *Config) Koanf() *koanf.Koanf {
	return c.k.Load()
}

// Unmarshal 将 path 下的配置解码到 target，path 为空时解码全部。
// target 中未出现在配置里的字段保持原值。
func (c *Config) Unmarshal(path string, target any) error {
	if err := c.k.Load().UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: tag}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

// Reload 重新读取文件；解析失败时保留旧配置。
func (c *Config) Reload() error {
	if c.path == "" {
		return ErrNotReloadable
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	k, err := parse(data, c.format)
	if err != nil {
		return err
	}
	c.k.Store(k)
	return nil
}

// Path 返回配置文件路径，从字节创建时为空。
func (c *Config) Path() string { return c.path }

// Format 返回配置格式。
func (c *Config) Format() Format { return c.format }

// DetectFormat 按扩展名判断格式。
func DetectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

func parse(data []byte, format Format) (*koanf.Koanf, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, ErrUnsupportedFormat
	}
	k := koanf.New(delim)
	if len(data) == 0 {
		return k, nil
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return k, nil
}
