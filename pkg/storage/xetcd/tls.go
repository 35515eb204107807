package xetcd

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig etcd 连接的 TLS 参数。CertFile 与 KeyFile 必须同时设置。
type TLSConfig struct {
	CertFile   string `json:"cert_file" yaml:"cert_file" koanf:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file" koanf:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file" koanf:"ca_file"`
	ServerName string `json:"server_name" yaml:"server_name" koanf:"server_name"`
}

// Enabled 是否配置了任一 TLS 参数。
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != "" || t.CAFile != "" || t.ServerName != ""
}

func (t TLSConfig) validate() error {
	if (t.CertFile == "") != (t.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file must be set together", ErrInvalidTLS)
	}
	return nil
}

// load 读取证书，未启用时返回 nil。
func (t TLSConfig) load() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: t.ServerName}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTLS, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTLS, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidTLS, t.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
