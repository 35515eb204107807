//go:build integration

package testenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// 指定已有实例的环境变量
const (
	EnvEtcdEndpoint = "XJOB_ETCD_ENDPOINT"
	EnvRedisAddr    = "XJOB_REDIS_ADDR"
	EnvMongoURI     = "XJOB_MONGO_URI"
)

// Etcd 返回可用的 etcd endpoint（host:port）。
func Etcd(t *testing.T) string {
	t.Helper()
	if ep := os.Getenv(EnvEtcdEndpoint); ep != "" {
		return ep
	}
	return start(t, testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.6.8",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--advertise-client-urls=http://0.0.0.0:2379",
			"--listen-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForLog("ready to serve client requests"),
	}, "2379/tcp")
}

// Redis 返回可用的 redis 地址（host:port）。
func Redis(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		return addr
	}
	return start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379/tcp")
}

// Mongo 返回可用的 MongoDB 连接 URI。
func Mongo(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv(EnvMongoURI); uri != "" {
		return uri
	}
	return "mongodb://" + start(t, testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}, "27017/tcp")
}

func start(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	// 探测 Docker 可用性，避免 testcontainers 内部 panic
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found in PATH, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("%s container not available: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}
