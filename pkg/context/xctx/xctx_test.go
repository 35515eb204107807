package xctx_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xjob/pkg/context/xctx"
)

func TestJobFields(t *testing.T) {
	ctx, err := xctx.WithNodeID(context.Background(), "node-a")
	require.NoError(t, err)
	ctx, err = xctx.WithJob(ctx, "j1", "cubeY")
	require.NoError(t, err)

	assert.Equal(t, "node-a", xctx.NodeID(ctx))
	assert.Equal(t, "j1", xctx.JobID(ctx))
	assert.Equal(t, "cubeY", xctx.JobKey(ctx))
}

func TestNilContext(t *testing.T) {
	//nolint:staticcheck // 测试 nil context 分支
	_, err := xctx.WithNodeID(nil, "x")
	assert.ErrorIs(t, err, xctx.ErrNilContext)
	//nolint:staticcheck // 测试 nil context 分支
	assert.Empty(t, xctx.JobID(nil))
}

func TestEnsureTrace(t *testing.T) {
	ctx, err := xctx.EnsureTrace(context.Background())
	require.NoError(t, err)
	assert.Len(t, xctx.TraceID(ctx), 2*xctx.TraceIDSize)
	assert.Len(t, xctx.SpanID(ctx), 2*xctx.SpanIDSize)

	again, err := xctx.EnsureTrace(ctx)
	require.NoError(t, err)
	assert.Equal(t, xctx.TraceID(ctx), xctx.TraceID(again))
}

func TestLogAttrs(t *testing.T) {
	assert.Nil(t, xctx.LogAttrs(context.Background()))

	ctx, err := xctx.WithTraceID(context.Background(), "t1")
	require.NoError(t, err)
	ctx, err = xctx.WithJobKey(ctx, "cubeX")
	require.NoError(t, err)

	attrs := xctx.LogAttrs(ctx)
	assert.Equal(t, []slog.Attr{
		slog.String(xctx.KeyTraceID, "t1"),
		slog.String(xctx.KeyJobKey, "cubeX"),
	}, attrs)
}
