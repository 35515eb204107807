package xetcd

import (
	"fmt"
	"strings"
	"time"
)

// Config etcd 客户端配置，支持 JSON/YAML/koanf 反序列化。
type Config struct {
	// Endpoints etcd 服务端点列表，必填，格式 host:port。
	Endpoints []string `json:"endpoints" yaml:"endpoints" koanf:"endpoints"`

	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`

	// DialTimeout 连接超时，零值时为 5 秒。
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" koanf:"dial_timeout"`

	// DialKeepAliveTime gRPC keepalive 探测间隔，零值时为 10 秒。
	DialKeepAliveTime time.Duration `json:"dial_keepalive_time" yaml:"dial_keepalive_time" koanf:"dial_keepalive_time"`

	// DialKeepAliveTimeout gRPC keepalive 超时，零值时为 3 秒。
	DialKeepAliveTimeout time.Duration `json:"dial_keepalive_timeout" yaml:"dial_keepalive_timeout" koanf:"dial_keepalive_timeout"`

	// AutoSyncInterval 自动同步 endpoints 的间隔，0 表示禁用。
	AutoSyncInterval time.Duration `json:"auto_sync_interval" yaml:"auto_sync_interval" koanf:"auto_sync_interval"`

	// RejectOldCluster 拒绝过期集群。零值为 false，DefaultConfig 中为 true。
	RejectOldCluster bool `json:"reject_old_cluster" yaml:"reject_old_cluster" koanf:"reject_old_cluster"`

	// PermitWithoutStream 没有活跃 RPC 流时也发送 keepalive。
	// 协调会话依赖连接健康，DefaultConfig 中为 true。
	PermitWithoutStream bool `json:"permit_without_stream" yaml:"permit_without_stream" koanf:"permit_without_stream"`

	// TLS 客户端证书与 CA，全部为空时使用明文连接。
	TLS TLSConfig `json:"tls" yaml:"tls" koanf:"tls"`
}

const (
	defaultDialTimeout          = 5 * time.Second
	defaultDialKeepAliveTime    = 10 * time.Second
	defaultDialKeepAliveTimeout = 3 * time.Second
)

// DefaultConfig 返回带有推荐默认值的配置，调用方按需覆盖字段。
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:          defaultDialTimeout,
		DialKeepAliveTime:    defaultDialKeepAliveTime,
		DialKeepAliveTimeout: defaultDialKeepAliveTimeout,
		RejectOldCluster:     true,
		PermitWithoutStream:  true,
	}
}

// Validate 验证配置有效性。
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Endpoints {
		if ep == "" {
			return fmt.Errorf("%w: endpoint[%d] is empty", ErrInvalidEndpoint, i)
		}
		// 支持 IPv6 形式 [::1]:2379
		if !strings.Contains(ep, ":") {
			return fmt.Errorf("%w: endpoint[%d]=%q missing port", ErrInvalidEndpoint, i, ep)
		}
	}
	return c.TLS.validate()
}

// applyDefaults 返回填充默认值后的副本，不修改原配置。
func (c *Config) applyDefaults() *Config {
	cfg := *c
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DialKeepAliveTime == 0 {
		cfg.DialKeepAliveTime = defaultDialKeepAliveTime
	}
	if cfg.DialKeepAliveTimeout == 0 {
		cfg.DialKeepAliveTimeout = defaultDialKeepAliveTimeout
	}
	return &cfg
}
