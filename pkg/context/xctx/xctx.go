package xctx

import (
	"context"
	"errors"
)

// contextKey 包私有类型，避免与其他包的 context key 冲突。
type contextKey string

// ErrNilContext 表示传入的 context 为 nil。
var ErrNilContext = errors.New("xctx: nil context")

func withString(ctx context.Context, key contextKey, v string) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return context.WithValue(ctx, key, v), nil
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
