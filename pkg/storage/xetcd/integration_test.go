//go:build integration

package xetcd_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xjob/internal/testenv"
	"github.com/omeyang/xjob/pkg/storage/xetcd"
)

func newIntegrationClient(t *testing.T) *xetcd.Client {
	t.Helper()
	cfg := xetcd.DefaultConfig()
	cfg.Endpoints = []string{testenv.Etcd(t)}
	client, err := xetcd.NewClient(cfg, xetcd.WithHealthCheck(true, 10*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_CreateAndCompareAndSwap(t *testing.T) {
	client := newIntegrationClient(t)
	ctx := context.Background()
	key := "/xetcd-test/cas-" + time.Now().Format("150405.000")

	require.NoError(t, client.Create(ctx, key, []byte("v1")))
	assert.ErrorIs(t, client.Create(ctx, key, []byte("v2")), xetcd.ErrKeyExists)

	value, rev, err := client.GetWithRevision(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, client.CompareAndSwap(ctx, key, []byte("v2"), rev))
	assert.ErrorIs(t, client.CompareAndSwap(ctx, key, []byte("v3"), rev), xetcd.ErrRevisionMismatch)

	deleted, err := client.DeleteIfExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = client.Get(ctx, key)
	assert.True(t, xetcd.IsKeyNotFound(err))
}

func TestIntegration_ListAndWatch(t *testing.T) {
	client := newIntegrationClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prefix := "/xetcd-test/watch-" + time.Now().Format("150405.000") + "/"

	events, err := client.Watch(ctx, prefix, xetcd.WithPrefix())
	require.NoError(t, err)

	require.NoError(t, client.Put(ctx, prefix+"a", []byte("1")))
	require.NoError(t, client.Delete(ctx, prefix+"a"))

	var got []xetcd.EventType
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			require.NoError(t, ev.Error)
			assert.Equal(t, prefix+"a", ev.Key)
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatal("timed out waiting for watch events")
		}
	}
	assert.Equal(t, []xetcd.EventType{xetcd.EventPut, xetcd.EventDelete}, got)

	require.NoError(t, client.Put(ctx, prefix+"b", []byte("2")))
	all, err := client.List(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{prefix + "b": []byte("2")}, all)
}
