package xsched

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

func newTypedJob(t *testing.T, typ string, params map[string]string) *xjob.Job {
	t.Helper()
	job, err := xjob.New("cube", xjob.WithType(typ), xjob.WithParams(params))
	require.NoError(t, err)
	return job
}

func TestRegistry_Dispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	custom := NewMockExecutor(ctrl)

	r := NewRegistry()
	r.Register("custom", custom)
	job := newTypedJob(t, "custom", nil)

	custom.EXPECT().Execute(gomock.Any(), job).Return(errors.New("boom"))
	assert.EqualError(t, r.Execute(context.Background(), job), "boom")

	err := r.Execute(context.Background(), newTypedJob(t, "missing", nil))
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestDefaultRegistry_Types(t *testing.T) {
	assert.Equal(t, []string{TypeExec, TypeNoop, TypeSleep}, DefaultRegistry().Types())
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop().Execute(context.Background(), newTypedJob(t, TypeNoop, nil)))
}

func TestSleep(t *testing.T) {
	ctx := context.Background()

	t.Run("Completes", func(t *testing.T) {
		job := newTypedJob(t, TypeSleep, map[string]string{ParamDuration: "5ms"})
		assert.NoError(t, Sleep().Execute(ctx, job))
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		for _, raw := range []string{"", "soon", "-1s"} {
			job := newTypedJob(t, TypeSleep, map[string]string{ParamDuration: raw})
			assert.ErrorIs(t, Sleep().Execute(ctx, job), ErrInvalidParam, raw)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancelCause(ctx)
		cancel(errStopRequested)
		job := newTypedJob(t, TypeSleep, map[string]string{ParamDuration: "1h"})
		assert.ErrorIs(t, Sleep().Execute(cctx, job), errStopRequested)
	})
}

func TestExec(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		job := newTypedJob(t, TypeExec, map[string]string{ParamCommand: "true"})
		assert.NoError(t, Exec().Execute(ctx, job))
	})

	t.Run("FailureIncludesOutput", func(t *testing.T) {
		job := newTypedJob(t, TypeExec, map[string]string{ParamCommand: "echo disk full >&2; exit 3"})
		err := Exec().Execute(ctx, job)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("OutputTruncated", func(t *testing.T) {
		job := newTypedJob(t, TypeExec, map[string]string{ParamCommand: "yes a | head -c 2000; echo END; exit 1"})
		err := Exec().Execute(ctx, job)
		require.Error(t, err)
		assert.True(t, strings.HasSuffix(err.Error(), "END"))
		assert.Less(t, len(err.Error()), 2000)
	})

	t.Run("EmptyCommand", func(t *testing.T) {
		job := newTypedJob(t, TypeExec, map[string]string{ParamCommand: "  "})
		assert.ErrorIs(t, Exec().Execute(ctx, job), ErrInvalidParam)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithTimeoutCause(ctx, 20*time.Millisecond, errJobTimeout)
		defer cancel()
		job := newTypedJob(t, TypeExec, map[string]string{ParamCommand: "sleep 5"})
		assert.ErrorIs(t, Exec().Execute(cctx, job), errJobTimeout)
	})
}

func TestSafeExecute_RecoversPanic(t *testing.T) {
	panicky := ExecutorFunc(func(context.Context, *xjob.Job) error { panic("nil map") })
	err := safeExecute(context.Background(), panicky, newTypedJob(t, "x", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor panic: nil map")
}
