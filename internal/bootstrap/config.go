package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/omeyang/xjob/pkg/config/xconf"
	"github.com/omeyang/xjob/pkg/distributed/xcoord"
	"github.com/omeyang/xjob/pkg/distributed/xjoblock"
	"github.com/omeyang/xjob/pkg/distributed/xsched"
	"github.com/omeyang/xjob/pkg/jobs/xjobstore"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/storage/xetcd"
)

// 后端类型。
const (
	BackendEtcd   = "etcd"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// 默认值。
const (
	DefaultEtcdEndpoint    = "127.0.0.1:2379"
	DefaultMongoDatabase   = "xjob"
	DefaultMongoCollection = "jobs"
)

// Config 节点进程配置。
type Config struct {
	Node         NodeConfig         `koanf:"node"`
	Coordination CoordinationConfig `koanf:"coordination"`
	Store        StoreConfig        `koanf:"store"`
	Log          LogConfig          `koanf:"log"`
	Metrics      MetricsConfig      `koanf:"metrics"`
}

// NodeConfig 调度节点参数。
type NodeConfig struct {
	// ID 节点标识，为空时使用 DefaultNodeID。
	ID                string        `koanf:"id"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	StopCheckInterval time.Duration `koanf:"stop_check_interval"`
	// JobTimeout 0 表示不限制。
	JobTimeout      time.Duration `koanf:"job_timeout"`
	MaxConcurrent   int           `koanf:"max_concurrent"`
	OrphanRecovery  bool          `koanf:"orphan_recovery"`
	ResubmitOrphans bool          `koanf:"resubmit_orphans"`
	ReleaseWatch    bool          `koanf:"release_watch"`
	// Retention 终态作业保留时长，0 表示不清理。
	Retention       time.Duration `koanf:"retention"`
	MaintenanceCron string        `koanf:"maintenance_cron"`
}

// CoordinationConfig 协调服务。
type CoordinationConfig struct {
	Backend    string        `koanf:"backend"`
	LockRoot   string        `koanf:"lock_root"`
	Namespace  string        `koanf:"namespace"`
	SessionTTL time.Duration `koanf:"session_ttl"`
	Etcd       xetcd.Config  `koanf:"etcd"`
	Redis      RedisConfig   `koanf:"redis"`
}

// StoreConfig 作业存储。
type StoreConfig struct {
	Backend string `koanf:"backend"`
	// Prefix 键前缀，mongo 后端以集合区分环境，忽略此字段。
	Prefix  string        `koanf:"prefix"`
	Etcd    xetcd.Config  `koanf:"etcd"`
	Redis   RedisConfig   `koanf:"redis"`
	Mongo   MongoConfig   `koanf:"mongo"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// RedisConfig redis 连接参数。Addrs 多于一个时使用集群模式，
// 设置 MasterName 时使用哨兵模式。
type RedisConfig struct {
	Addrs      []string `koanf:"addrs"`
	Username   string   `koanf:"username"`
	Password   string   `koanf:"password"`
	DB         int      `koanf:"db"`
	MasterName string   `koanf:"master_name"`
}

// MongoConfig MongoDB 连接参数。
type MongoConfig struct {
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

// BreakerConfig 存储熔断。
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// LogConfig 日志。File 非空时输出到按大小轮转的文件。
type LogConfig struct {
	Level    string              `koanf:"level"`
	Format   string              `koanf:"format"`
	File     string              `koanf:"file"`
	Rotation xlog.RotationConfig `koanf:"rotation"`
}

// MetricsConfig 观测。开启时使用全局 OpenTelemetry provider。
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Default 返回默认配置：etcd 协调与存储、info 级别 text 日志。
func Default() Config {
	etcd := *xetcd.DefaultConfig()
	etcd.Endpoints = []string{DefaultEtcdEndpoint}
	return Config{
		Node: NodeConfig{
			PollInterval:      xsched.DefaultPollInterval,
			StopCheckInterval: xsched.DefaultStopCheckInterval,
			MaxConcurrent:     xsched.DefaultMaxConcurrent,
			OrphanRecovery:    true,
			ReleaseWatch:      true,
			MaintenanceCron:   xsched.DefaultMaintenanceSpec,
		},
		Coordination: CoordinationConfig{
			Backend:    BackendEtcd,
			LockRoot:   xjoblock.DefaultLockRoot,
			Namespace:  xjoblock.DefaultNamespace,
			SessionTTL: xcoord.DefaultSessionTTL,
			Etcd:       etcd,
		},
		Store: StoreConfig{
			Backend: BackendEtcd,
			Etcd:    etcd,
			Mongo:   MongoConfig{Database: DefaultMongoDatabase, Collection: DefaultMongoCollection},
			Breaker: BreakerConfig{
				FailureThreshold: xjobstore.DefaultBreakerFailures,
				OpenTimeout:      xjobstore.DefaultBreakerOpenTimeout,
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load 在默认配置之上叠加 cfg 的内容并校验。cfg 为 nil 时只使用默认值。
func Load(cfg *xconf.Config) (Config, error) {
	c := Default()
	if cfg != nil {
		if err := cfg.Unmarshal("", &c); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate 校验配置，返回包含全部问题的 ErrInvalidConfig。
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Node.ID != "" && strings.Contains(c.Node.ID, "/") {
		add("node.id %q must not contain '/'", c.Node.ID)
	}
	if c.Node.PollInterval <= 0 {
		add("node.poll_interval must be positive")
	}
	if c.Node.StopCheckInterval <= 0 {
		add("node.stop_check_interval must be positive")
	}
	if c.Node.JobTimeout < 0 {
		add("node.job_timeout must not be negative")
	}
	if c.Node.MaxConcurrent <= 0 {
		add("node.max_concurrent must be positive")
	}
	if c.Node.Retention < 0 {
		add("node.retention must not be negative")
	}
	if c.Node.Retention > 0 {
		if _, err := cron.ParseStandard(c.Node.MaintenanceCron); err != nil {
			add("node.maintenance_cron %q: %v", c.Node.MaintenanceCron, err)
		}
	}

	switch c.Coordination.Backend {
	case BackendEtcd:
		if err := c.Coordination.Etcd.Validate(); err != nil {
			add("coordination.etcd: %v", err)
		}
	case BackendRedis:
		if len(c.Coordination.Redis.Addrs) == 0 {
			add("coordination.redis.addrs is required")
		}
	case BackendMemory:
	default:
		add("coordination.backend %q: %v", c.Coordination.Backend, ErrUnsupportedBackend)
	}

	switch c.Store.Backend {
	case BackendEtcd:
		if err := c.Store.Etcd.Validate(); err != nil {
			add("store.etcd: %v", err)
		}
	case BackendRedis:
		if len(c.Store.Redis.Addrs) == 0 {
			add("store.redis.addrs is required")
		}
	case BackendMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" || c.Store.Mongo.Collection == "" {
			add("store.mongo uri, database and collection are required")
		}
	case BackendMemory:
	default:
		add("store.backend %q: %v", c.Store.Backend, ErrUnsupportedBackend)
	}

	if _, err := xlog.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format %q must be text or json", c.Log.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// DefaultNodeID 返回 <hostname>-<8 位随机串>，每次调用都不同。
func DefaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "xjob"
	}
	host = strings.ReplaceAll(host, "/", "-")
	return host + "-" + uuid.NewString()[:8]
}
