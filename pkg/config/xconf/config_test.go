package xconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeSection struct {
	ID           string        `koanf:"id"`
	PollInterval time.Duration `koanf:"poll_interval"`
	MaxRunning   int           `koanf:"max_concurrent"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_YAML(t *testing.T) {
	path := writeFile(t, "xjob.yaml", `
node:
  id: node-a
  poll_interval: 2s
`)
	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, cfg.Format())
	assert.Equal(t, path, cfg.Path())

	got := nodeSection{MaxRunning: 4}
	require.NoError(t, cfg.Unmarshal("node", &got))
	assert.Equal(t, "node-a", got.ID)
	assert.Equal(t, 2*time.Second, got.PollInterval)
	assert.Equal(t, 4, got.MaxRunning, "absent keys keep preset defaults")
}

func TestNew_Errors(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = New("config.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = New(writeFile(t, "bad.json", "{"))
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestNewFromBytes(t *testing.T) {
	cfg, err := NewFromBytes([]byte(`{"node":{"id":"node-b"}}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "node-b", cfg.Koanf().String("node.id"))
	assert.ErrorIs(t, cfg.Reload(), ErrNotReloadable)

	empty, err := NewFromBytes(nil, FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, empty.Koanf().Keys())

	_, err = NewFromBytes([]byte("x"), Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReload_KeepsOldOnParseError(t *testing.T) {
	path := writeFile(t, "xjob.json", `{"node":{"id":"v1"}}`)
	cfg, err := New(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"node":`), 0o600))
	assert.ErrorIs(t, cfg.Reload(), ErrParseFailed)
	assert.Equal(t, "v1", cfg.Koanf().String("node.id"))

	require.NoError(t, os.WriteFile(path, []byte(`{"node":{"id":"v2"}}`), 0o600))
	require.NoError(t, cfg.Reload())
	assert.Equal(t, "v2", cfg.Koanf().String("node.id"))
}
