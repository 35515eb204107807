package xsched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xjob/pkg/context/xctx"
	"github.com/omeyang/xjob/pkg/distributed/xcoord"
	"github.com/omeyang/xjob/pkg/distributed/xjoblock"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/jobs/xjobstore"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

const waitTimeout = 5 * time.Second

// blockingExecutor 阻塞到 release 关闭或上下文取消，started 收到执行节点标识。
type blockingExecutor struct {
	started chan string
	release chan struct{}
	runs    atomic.Int32
}

func newBlocking() *blockingExecutor {
	return &blockingExecutor{started: make(chan string, 16), release: make(chan struct{})}
}

func (b *blockingExecutor) Execute(ctx context.Context, _ *xjob.Job) error {
	b.runs.Add(1)
	b.started <- xctx.NodeID(ctx)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (b *blockingExecutor) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case node := <-b.started:
		return node
	case <-time.After(waitTimeout):
		t.Fatal("job did not start")
		return ""
	}
}

type harness struct {
	srv   *xcoord.MemoryServer
	store *xjobstore.MemoryStore
}

func newHarness() *harness {
	return &harness{srv: xcoord.NewMemoryServer(), store: xjobstore.NewMemory()}
}

type testNode struct {
	*Node
	client *xcoord.MemoryClient
	locker *xjoblock.Locker
}

func (h *harness) newNode(t *testing.T, id string, exec Executor, store xjob.Store, opts ...Option) *testNode {
	t.Helper()
	if store == nil {
		store = h.store
	}
	client := h.srv.NewClient(xcoord.WithLogger(xlog.Discard()))
	locker, err := xjoblock.New(client,
		xjoblock.WithLogger(xlog.Discard()), xjoblock.WithVerifyAttempts(1, time.Millisecond))
	require.NoError(t, err)

	base := []Option{
		WithLogger(xlog.Discard()),
		WithPollInterval(time.Hour),
		WithStopCheckInterval(5 * time.Millisecond),
		WithTerminalTimeout(time.Second),
		WithReleaseWatch(false),
	}
	n, err := NewNode(id, store, locker, exec, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = n.Shutdown(ctx)
		_ = client.Close(ctx)
	})
	return &testNode{Node: n, client: client, locker: locker}
}

func (h *harness) start(t *testing.T, id string, exec Executor, store xjob.Store, opts ...Option) *testNode {
	t.Helper()
	n := h.newNode(t, id, exec, store, opts...)
	require.NoError(t, n.Start(context.Background()))
	return n
}

func (h *harness) submit(t *testing.T, key string, opts ...xjob.Option) *xjob.Job {
	t.Helper()
	job, err := xjob.New(key, opts...)
	require.NoError(t, err)
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	return job
}

func (h *harness) get(t *testing.T, id string) *xjob.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (n *testNode) poll(t *testing.T) {
	t.Helper()
	require.NoError(t, n.PollAndDispatch(context.Background()))
}

// idle 等待本节点所有执行结束（包括终态写入）。
func (n *testNode) idle() { n.execs.Wait() }

func (n *testNode) holders(t *testing.T) map[string]string {
	t.Helper()
	holders, err := n.locker.Holders(context.Background())
	require.NoError(t, err)
	return holders
}

func TestNewNode_Validation(t *testing.T) {
	h := newHarness()
	locker, err := xjoblock.New(h.srv.NewClient())
	require.NoError(t, err)

	_, err = NewNode("", h.store, locker, Noop())
	assert.ErrorIs(t, err, ErrInvalidNodeID)
	_, err = NewNode("a/b", h.store, locker, Noop())
	assert.ErrorIs(t, err, ErrInvalidNodeID)
	_, err = NewNode("A", nil, locker, Noop())
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewNode("A", h.store, nil, Noop())
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewNode("A", h.store, locker, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewNode("A", h.store, locker, Noop(), WithRetention(-time.Hour, ""))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = NewNode("A", h.store, locker, Noop(), WithRetention(time.Hour, "every tuesday"))
	assert.ErrorIs(t, err, ErrInvalidOption)

	n, err := NewNode("A", h.store, locker, Noop())
	require.NoError(t, err)
	assert.Equal(t, "A", n.ID())
	assert.Equal(t, "xsched-node-A", n.Name())
	assert.Equal(t, DefaultPollInterval, n.PollInterval())
	n.SetPollInterval(0)
	assert.Equal(t, DefaultPollInterval, n.PollInterval())
	n.SetPollInterval(time.Second)
	assert.Equal(t, time.Second, n.PollInterval())
}

func TestNode_StartRequiresCoordination(t *testing.T) {
	h := newHarness()
	n := h.newNode(t, "A", Noop(), nil)
	n.client.SetUnavailable(true)

	err := n.Start(context.Background())
	assert.ErrorIs(t, err, ErrCoordinationUnavailable)
	assert.ErrorIs(t, n.PollAndDispatch(context.Background()), ErrNotStarted)
}

func TestNode_StartOnce(t *testing.T) {
	h := newHarness()
	n := h.start(t, "A", Noop(), nil)
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Shutdown(context.Background()))
	require.NoError(t, n.Shutdown(context.Background()))
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)
	assert.ErrorIs(t, n.PollAndDispatch(context.Background()), ErrNotStarted)
}

func TestNode_SingleWinner(t *testing.T) {
	h := newHarness()
	exec := newBlocking()
	a := h.start(t, "A", exec, nil)
	b := h.start(t, "B", exec, nil)
	job := h.submit(t, "cubeX")

	var wg sync.WaitGroup
	for _, n := range []*testNode{a, b} {
		wg.Go(func() { assert.NoError(t, n.PollAndDispatch(context.Background())) })
	}
	wg.Wait()
	winner := exec.waitStarted(t)

	got := h.get(t, job.ID)
	assert.Equal(t, xjob.StatusRunning, got.Status)
	assert.Equal(t, winner, got.Node)
	assert.Equal(t, map[string]string{"cubeX": winner}, a.holders(t))

	// 再次调度不会重复执行，也不会被当作孤儿
	a.poll(t)
	b.poll(t)
	assert.Equal(t, int32(1), exec.runs.Load())
	assert.Equal(t, xjob.StatusRunning, h.get(t, job.ID).Status)

	close(exec.release)
	a.idle()
	b.idle()

	got = h.get(t, job.ID)
	assert.Equal(t, xjob.StatusSucceed, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())
	assert.Empty(t, b.Owned())

	sa, sb := a.Stats(), b.Stats()
	assert.Equal(t, int64(1), sa.Dispatched+sb.Dispatched)
	assert.Equal(t, int64(1), sa.Succeeded+sb.Succeeded)
	assert.False(t, sa.LastPoll.IsZero())
}

func TestNode_ExternalStop(t *testing.T) {
	h := newHarness()
	exec := newBlocking()
	a := h.start(t, "A", exec, nil)
	job := h.submit(t, "cubeY")

	a.poll(t)
	exec.waitStarted(t)

	_, err := h.store.SetStatus(context.Background(), job.ID, xjob.StatusStopped, xjob.WithMessage("operator"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	got, err := xjob.WaitForStatus(ctx, h.store, job.ID, xjob.StatusStopped, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "operator", got.Message)

	a.idle()
	assert.Equal(t, xjob.StatusStopped, h.get(t, job.ID).Status)
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())
	assert.Equal(t, int64(1), a.Stats().Stopped)
}

func TestNode_ExecutorFailure(t *testing.T) {
	h := newHarness()
	failing := ExecutorFunc(func(context.Context, *xjob.Job) error { return errors.New("exit status 2") })
	a := h.start(t, "A", failing, nil)
	job := h.submit(t, "cube")

	a.poll(t)
	a.idle()

	got := h.get(t, job.ID)
	assert.Equal(t, xjob.StatusError, got.Status)
	assert.Equal(t, "exit status 2", got.Message)
	assert.Equal(t, int64(1), a.Stats().Failed)
	assert.Empty(t, a.holders(t))
}

func TestNode_JobTimeout(t *testing.T) {
	h := newHarness()
	a := h.start(t, "A", Sleep(), nil, WithJobTimeout(20*time.Millisecond))
	job := h.submit(t, "cube", xjob.WithType(TypeSleep), xjob.WithParam(ParamDuration, "1h"))

	a.poll(t)
	a.idle()

	got := h.get(t, job.ID)
	assert.Equal(t, xjob.StatusError, got.Status)
	assert.Contains(t, got.Message, "timed out")
}

func TestNode_SameKeyRunsOldestFirst(t *testing.T) {
	h := newHarness()
	var (
		mu    sync.Mutex
		order []string
	)
	record := ExecutorFunc(func(_ context.Context, job *xjob.Job) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, job.ID)
		return nil
	})
	a := h.start(t, "A", record, nil)

	newer, err := xjob.New("cube")
	require.NoError(t, err)
	older, err := xjob.New("cube")
	require.NoError(t, err)
	older.CreatedAt = newer.CreatedAt.Add(-time.Minute)
	require.NoError(t, h.store.CreateJob(context.Background(), newer))
	require.NoError(t, h.store.CreateJob(context.Background(), older))

	a.poll(t)
	a.idle()
	assert.Equal(t, xjob.StatusSucceed, h.get(t, older.ID).Status)
	assert.Equal(t, xjob.StatusReady, h.get(t, newer.ID).Status)

	a.poll(t)
	a.idle()
	assert.Equal(t, xjob.StatusSucceed, h.get(t, newer.ID).Status)
	assert.Equal(t, []string{older.ID, newer.ID}, order)
}

func TestNode_ConcurrencyLimit(t *testing.T) {
	h := newHarness()
	exec := newBlocking()
	a := h.start(t, "A", exec, nil, WithMaxConcurrent(1))
	h.submit(t, "k1")
	h.submit(t, "k2")

	a.poll(t)
	exec.waitStarted(t)
	a.poll(t)
	assert.Equal(t, int32(1), exec.runs.Load())
	assert.Len(t, a.Owned(), 1)

	close(exec.release)
	a.idle()
	a.poll(t)
	a.idle()
	assert.Equal(t, int32(2), exec.runs.Load())

	done, err := h.store.ListJobs(context.Background(), xjob.Filter{Statuses: []xjob.Status{xjob.StatusSucceed}})
	require.NoError(t, err)
	assert.Len(t, done, 2)
}

func TestNode_LockLossAbortsAndAnotherNodeTakesOver(t *testing.T) {
	h := newHarness()
	exec := newBlocking()
	a := h.start(t, "A", exec, nil)
	b := h.start(t, "B", Noop(), nil)
	first := h.submit(t, "cube")

	a.poll(t)
	exec.waitStarted(t)
	a.client.ExpireSession()
	a.idle()

	got := h.get(t, first.ID)
	assert.Equal(t, xjob.StatusError, got.Status)
	assert.Contains(t, got.Message, "execution lock lost")
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())

	second := h.submit(t, "cube")
	b.poll(t)
	b.idle()
	got = h.get(t, second.ID)
	assert.Equal(t, xjob.StatusSucceed, got.Status)
	assert.Equal(t, "B", got.Node)
}

func TestNode_OrphanRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("MarksErrorAndResubmits", func(t *testing.T) {
		h := newHarness()
		b := h.start(t, "B", Noop(), nil, WithResubmitOrphans(true))
		orphan := h.submit(t, "cubeZ", xjob.WithName("nightly"), xjob.WithParam("region", "eu"))
		_, err := h.store.SetStatus(ctx, orphan.ID, xjob.StatusRunning, xjob.WithNode("dead"))
		require.NoError(t, err)

		b.poll(t)

		got := h.get(t, orphan.ID)
		assert.Equal(t, xjob.StatusError, got.Status)
		assert.Contains(t, got.Message, "dead")
		assert.Contains(t, got.Message, "recovered by B")
		assert.Equal(t, int64(1), b.Stats().Orphans)
		assert.Empty(t, b.holders(t))

		copies, err := h.store.ListJobs(ctx, xjob.Filter{Key: "cubeZ", Statuses: []xjob.Status{xjob.StatusReady}})
		require.NoError(t, err)
		require.Len(t, copies, 1)
		assert.NotEqual(t, orphan.ID, copies[0].ID)
		assert.Equal(t, "nightly", copies[0].Name)
		assert.Equal(t, map[string]string{"region": "eu"}, copies[0].Params)
	})

	t.Run("Disabled", func(t *testing.T) {
		h := newHarness()
		b := h.start(t, "B", Noop(), nil, WithOrphanRecovery(false))
		orphan := h.submit(t, "cubeZ")
		_, err := h.store.SetStatus(ctx, orphan.ID, xjob.StatusRunning, xjob.WithNode("dead"))
		require.NoError(t, err)

		b.poll(t)
		assert.Equal(t, xjob.StatusRunning, h.get(t, orphan.ID).Status)
	})

	t.Run("HeldLockIsNotOrphan", func(t *testing.T) {
		h := newHarness()
		b := h.start(t, "B", Noop(), nil)
		other := h.srv.NewClient(xcoord.WithLogger(xlog.Discard()))
		t.Cleanup(func() { _ = other.Close(ctx) })
		locker, err := xjoblock.New(other, xjoblock.WithLogger(xlog.Discard()))
		require.NoError(t, err)

		job := h.submit(t, "cubeZ")
		lease, err := locker.TryAcquire(ctx, "cubeZ", "C")
		require.NoError(t, err)
		require.NotNil(t, lease)
		_, err = h.store.SetStatus(ctx, job.ID, xjob.StatusRunning, xjob.WithNode("C"))
		require.NoError(t, err)

		b.poll(t)
		assert.Equal(t, xjob.StatusRunning, h.get(t, job.ID).Status)
		assert.Zero(t, b.Stats().Orphans)
	})
}

// delegatingStore 把 mock 的调用转发到内存存储。
func delegatingStore(ctrl *gomock.Controller, mem *xjobstore.MemoryStore) *MockStore {
	store := NewMockStore(ctrl)
	store.EXPECT().CreateJob(gomock.Any(), gomock.Any()).DoAndReturn(mem.CreateJob).AnyTimes()
	store.EXPECT().GetJob(gomock.Any(), gomock.Any()).DoAndReturn(mem.GetJob).AnyTimes()
	store.EXPECT().ListJobs(gomock.Any(), gomock.Any()).DoAndReturn(mem.ListJobs).AnyTimes()
	store.EXPECT().DeleteJob(gomock.Any(), gomock.Any()).DoAndReturn(mem.DeleteJob).AnyTimes()
	return store
}

func TestNode_TerminalWriteFailureKeepsLock(t *testing.T) {
	h := newHarness()
	ctrl := gomock.NewController(t)
	store := delegatingStore(ctrl, h.store)
	gomock.InOrder(
		store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
			DoAndReturn(h.store.SetStatus),
		store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusSucceed, gomock.Any()).
			Return(nil, xjob.ErrStoreUnavailable),
		store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusSucceed, gomock.Any()).
			DoAndReturn(h.store.SetStatus),
	)

	a := h.start(t, "A", Noop(), store)
	b := h.start(t, "B", Noop(), nil)
	job := h.submit(t, "cube")

	a.poll(t)
	a.idle()

	// 终态未写入：作业保持 RUNNING，锁仍由 A 持有
	assert.Equal(t, xjob.StatusRunning, h.get(t, job.ID).Status)
	assert.Equal(t, map[string]string{"cube": "A"}, a.holders(t))
	assert.Equal(t, []string{"cube"}, a.Owned())
	assert.Equal(t, int64(1), a.Stats().StoreFailures)

	// 其他节点既不能接手也不会当作孤儿
	b.poll(t)
	assert.Equal(t, xjob.StatusRunning, h.get(t, job.ID).Status)

	// 下一周期重试成功后才释放锁
	a.poll(t)
	assert.Equal(t, xjob.StatusSucceed, h.get(t, job.ID).Status)
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())
}

// appliedButFailed 写入存储后仍返回错误，模拟响应丢失。
func appliedButFailed(mem *xjobstore.MemoryStore) func(context.Context, string, xjob.Status, ...xjob.UpdateOption) (*xjob.Job, error) {
	return func(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
		if _, err := mem.SetStatus(ctx, id, status, opts...); err != nil {
			return nil, err
		}
		return nil, xjob.ErrStoreUnavailable
	}
}

func TestNode_StartWriteFailureKeepsLock(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteApplied", func(t *testing.T) {
		h := newHarness()
		ctrl := gomock.NewController(t)
		store := delegatingStore(ctrl, h.store)
		gomock.InOrder(
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
				DoAndReturn(appliedButFailed(h.store)),
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusSucceed, gomock.Any()).
				DoAndReturn(h.store.SetStatus),
		)
		a := h.start(t, "A", Noop(), store)
		b := h.start(t, "B", Noop(), nil)
		job := h.submit(t, "cube")

		assert.ErrorIs(t, a.PollAndDispatch(ctx), ErrStoreFailure)
		got := h.get(t, job.ID)
		assert.Equal(t, xjob.StatusRunning, got.Status)
		assert.Equal(t, "A", got.Node)
		assert.Equal(t, map[string]string{"cube": "A"}, a.holders(t))
		assert.Equal(t, []string{"cube"}, a.Owned())

		// 锁仍被持有，其他节点不会把它当作孤儿
		b.poll(t)
		assert.Equal(t, xjob.StatusRunning, h.get(t, job.ID).Status)
		assert.Zero(t, b.Stats().Orphans)

		a.poll(t)
		a.idle()
		got = h.get(t, job.ID)
		assert.Equal(t, xjob.StatusSucceed, got.Status)
		assert.Equal(t, "A", got.Node)
		assert.Empty(t, a.holders(t))
		assert.Empty(t, a.Owned())
		assert.Equal(t, int64(1), a.Stats().Dispatched)
	})

	t.Run("WriteLost", func(t *testing.T) {
		h := newHarness()
		ctrl := gomock.NewController(t)
		store := delegatingStore(ctrl, h.store)
		gomock.InOrder(
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
				Return(nil, xjob.ErrStoreUnavailable),
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
				DoAndReturn(h.store.SetStatus),
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusSucceed, gomock.Any()).
				DoAndReturn(h.store.SetStatus),
		)
		a := h.start(t, "A", Noop(), store)
		b := h.start(t, "B", Noop(), nil)
		job := h.submit(t, "cube")

		assert.ErrorIs(t, a.PollAndDispatch(ctx), ErrStoreFailure)
		assert.Equal(t, xjob.StatusReady, h.get(t, job.ID).Status)
		assert.Equal(t, map[string]string{"cube": "A"}, a.holders(t))

		b.poll(t)
		assert.Equal(t, xjob.StatusReady, h.get(t, job.ID).Status)
		assert.Equal(t, int64(1), b.Stats().Contended)

		a.poll(t)
		a.idle()
		got := h.get(t, job.ID)
		assert.Equal(t, xjob.StatusSucceed, got.Status)
		assert.Equal(t, "A", got.Node)
		assert.Empty(t, a.holders(t))
	})

	t.Run("JobLeftBeforeRetry", func(t *testing.T) {
		h := newHarness()
		ctrl := gomock.NewController(t)
		store := delegatingStore(ctrl, h.store)
		store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
			Return(nil, xjob.ErrStoreUnavailable)
		a := h.start(t, "A", Noop(), store)
		job := h.submit(t, "cube")

		assert.ErrorIs(t, a.PollAndDispatch(ctx), ErrStoreFailure)
		_, err := h.store.SetStatus(ctx, job.ID, xjob.StatusDiscarded)
		require.NoError(t, err)

		a.poll(t)
		assert.Equal(t, xjob.StatusDiscarded, h.get(t, job.ID).Status)
		assert.Empty(t, a.holders(t))
		assert.Empty(t, a.Owned())
	})
}

func TestNode_ReleasesUntrackedOwnLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a := h.start(t, "A", Noop(), nil)
	job := h.submit(t, "cube")

	// 创建失败且核对时看不到持有者
	a.client.FailNext(xcoord.OpCreate, nil, false)
	assert.ErrorIs(t, a.PollAndDispatch(ctx), ErrCoordinationUnavailable)
	assert.Empty(t, a.Owned())

	// 创建随后才生效：锁以 A 的标识存在，A 并未跟踪
	late, err := a.locker.TryAcquire(ctx, "cube", "A")
	require.NoError(t, err)
	require.NotNil(t, late)
	assert.Equal(t, map[string]string{"cube": "A"}, a.holders(t))

	a.poll(t)
	a.idle()
	got := h.get(t, job.ID)
	assert.Equal(t, xjob.StatusSucceed, got.Status)
	assert.Equal(t, "A", got.Node)
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())
}

func TestNode_OnJobTerminalAfterExecutorFinished(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	ctrl := gomock.NewController(t)
	store := delegatingStore(ctrl, h.store)
	entered, gate := make(chan struct{}), make(chan struct{})
	gomock.InOrder(
		store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
			DoAndReturn(h.store.SetStatus),
		store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusSucceed, gomock.Any()).
			DoAndReturn(func(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
				close(entered)
				<-gate
				return h.store.SetStatus(ctx, id, status, opts...)
			}),
	)
	a := h.start(t, "A", Noop(), store)
	job := h.submit(t, "cube")

	a.poll(t)
	<-entered

	errc := make(chan error, 1)
	go func() { errc <- a.OnJobTerminal(ctx, job.ID, xjob.StatusError, "operator") }()
	require.Eventually(t, func() bool {
		e, _ := a.lookup(job.ID)
		if e == nil {
			return false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.reported != nil
	}, waitTimeout, time.Millisecond)
	close(gate)

	err := <-errc
	assert.ErrorIs(t, err, xjob.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "SUCCEED")
	a.idle()
	assert.Equal(t, xjob.StatusSucceed, h.get(t, job.ID).Status)
	assert.Empty(t, a.holders(t))
}

func TestKeysByAge(t *testing.T) {
	now := time.Now()
	jobs := []*xjob.Job{
		{ID: "3", Key: "b", CreatedAt: now.Add(2 * time.Second)},
		{ID: "1", Key: "a", CreatedAt: now},
		{ID: "2", Key: "b", CreatedAt: now.Add(time.Second)},
		{ID: "0", Key: MaintenanceKey, CreatedAt: now.Add(-time.Hour)},
		{ID: "4", Key: "a", CreatedAt: now.Add(3 * time.Second)},
	}
	assert.Equal(t, []string{"a", "b"}, keysByAge(jobs))
}

func TestNode_OnJobTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("RunningJob", func(t *testing.T) {
		h := newHarness()
		exec := newBlocking()
		a := h.start(t, "A", exec, nil)
		job := h.submit(t, "cube")
		a.poll(t)
		exec.waitStarted(t)

		require.NoError(t, a.OnJobTerminal(ctx, job.ID, xjob.StatusSucceed, "finished by operator"))

		got := h.get(t, job.ID)
		assert.Equal(t, xjob.StatusSucceed, got.Status)
		assert.Equal(t, "finished by operator", got.Message)
		assert.Empty(t, a.holders(t))
		assert.Empty(t, a.Owned())

		assert.ErrorIs(t, a.OnJobTerminal(ctx, job.ID, xjob.StatusError, ""), ErrJobNotOwned)
		assert.ErrorIs(t, a.OnJobTerminal(ctx, job.ID, xjob.StatusRunning, ""), xjob.ErrInvalidTransition)
	})

	t.Run("PendingWrite", func(t *testing.T) {
		h := newHarness()
		ctrl := gomock.NewController(t)
		store := delegatingStore(ctrl, h.store)
		gomock.InOrder(
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusRunning, gomock.Any()).
				DoAndReturn(h.store.SetStatus),
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusError, gomock.Any()).
				Return(nil, xjob.ErrStoreUnavailable),
			store.EXPECT().SetStatus(gomock.Any(), gomock.Any(), xjob.StatusError, gomock.Any()).
				DoAndReturn(h.store.SetStatus),
		)
		failing := ExecutorFunc(func(context.Context, *xjob.Job) error { return errors.New("crash") })
		a := h.start(t, "A", failing, store)
		job := h.submit(t, "cube")
		a.poll(t)
		a.idle()
		require.Equal(t, []string{"cube"}, a.Owned())

		require.NoError(t, a.OnJobTerminal(ctx, job.ID, xjob.StatusError, "confirmed by operator"))
		got := h.get(t, job.ID)
		assert.Equal(t, xjob.StatusError, got.Status)
		assert.Equal(t, "confirmed by operator", got.Message)
		assert.Empty(t, a.holders(t))
	})
}

func TestNode_AmbiguousAcquisition(t *testing.T) {
	h := newHarness()
	a := h.start(t, "A", Noop(), nil)
	b := h.start(t, "B", Noop(), nil)
	job := h.submit(t, "cube")

	// 创建已生效但响应丢失，且无法立即核对
	a.client.FailNext(xcoord.OpCreate, nil, true)
	a.client.FailNext(xcoord.OpGet, nil, false)
	a.poll(t)

	assert.Equal(t, xjob.StatusReady, h.get(t, job.ID).Status)
	assert.Equal(t, []string{"cube"}, a.Owned())
	assert.Equal(t, map[string]string{"cube": "A"}, a.holders(t))

	b.poll(t)
	assert.Equal(t, xjob.StatusReady, h.get(t, job.ID).Status)

	a.poll(t)
	a.idle()
	got := h.get(t, job.ID)
	assert.Equal(t, xjob.StatusSucceed, got.Status)
	assert.Equal(t, "A", got.Node)
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())
}

func TestNode_CoordinationOutage(t *testing.T) {
	h := newHarness()
	exec := newBlocking()
	a := h.start(t, "A", exec, nil)
	job := h.submit(t, "cube")

	a.client.SetUnavailable(true)
	a.poll(t)
	assert.Equal(t, []string{"cube"}, a.Owned())

	err := a.PollAndDispatch(context.Background())
	assert.ErrorIs(t, err, ErrCoordinationUnavailable)
	assert.Equal(t, xjob.StatusReady, h.get(t, job.ID).Status)

	a.client.SetUnavailable(false)
	a.poll(t)
	assert.Equal(t, "A", exec.waitStarted(t))
	close(exec.release)
	a.idle()
	assert.Equal(t, xjob.StatusSucceed, h.get(t, job.ID).Status)
}

func TestNode_Maintain(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	later := func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	a := h.start(t, "A", Noop(), nil, WithRetention(time.Hour, ""), withClock(later))

	old := h.submit(t, "k1")
	_, err := h.store.SetStatus(ctx, old.ID, xjob.StatusDiscarded)
	require.NoError(t, err)
	live := h.submit(t, "k2")

	other := h.srv.NewClient(xcoord.WithLogger(xlog.Discard()))
	t.Cleanup(func() { _ = other.Close(ctx) })
	locker, err := xjoblock.New(other, xjoblock.WithLogger(xlog.Discard()))
	require.NoError(t, err)
	lease, err := locker.TryAcquire(ctx, MaintenanceKey, "C")
	require.NoError(t, err)
	require.NotNil(t, lease)

	cleaned, err := a.Maintain(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleaned)

	require.NoError(t, lease.Release(ctx))
	cleaned, err = a.Maintain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, int64(1), a.Stats().Cleaned)

	_, err = h.store.GetJob(ctx, old.ID)
	assert.ErrorIs(t, err, xjob.ErrJobNotFound)
	assert.Equal(t, xjob.StatusReady, h.get(t, live.ID).Status)
	assert.Empty(t, a.holders(t))
}

func TestNode_MaintainWithoutRetention(t *testing.T) {
	h := newHarness()
	a := h.start(t, "A", Noop(), nil)
	cleaned, err := a.Maintain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cleaned)
}

func TestNode_ShutdownAbortsAndReleases(t *testing.T) {
	h := newHarness()
	exec := newBlocking()
	a := h.start(t, "A", exec, nil)
	job := h.submit(t, "cube")
	a.poll(t)
	exec.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	got := h.get(t, job.ID)
	assert.Equal(t, xjob.StatusError, got.Status)
	assert.Contains(t, got.Message, "shutting down")
	assert.Empty(t, a.holders(t))
	assert.Empty(t, a.Owned())
}

func TestNode_RunDispatchesImmediately(t *testing.T) {
	h := newHarness()
	n := h.newNode(t, "A", Noop(), nil)
	job := h.submit(t, "cube")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	wctx, wcancel := context.WithTimeout(context.Background(), waitTimeout)
	defer wcancel()
	got, err := xjob.WaitForTerminal(wctx, h.store, job.ID, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, xjob.StatusSucceed, got.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
}

func TestNode_ReleaseWatchTriggersDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a := h.start(t, "A", Noop(), nil, WithReleaseWatch(true))

	other := h.srv.NewClient(xcoord.WithLogger(xlog.Discard()))
	t.Cleanup(func() { _ = other.Close(ctx) })
	locker, err := xjoblock.New(other, xjoblock.WithLogger(xlog.Discard()))
	require.NoError(t, err)
	lease, err := locker.TryAcquire(ctx, "cube", "C")
	require.NoError(t, err)
	require.NotNil(t, lease)

	job := h.submit(t, "cube")
	require.NoError(t, lease.Release(ctx))

	wctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	got, err := xjob.WaitForTerminal(wctx, h.store, job.ID, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Node)
	a.idle()
}
