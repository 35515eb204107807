package xjobstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

// MemoryStore 进程内存作业存储，所有节点共享同一实例即可模拟共享元数据库。
type MemoryStore struct {
	opts *options
	mu   sync.RWMutex
	jobs map[string]*xjob.Job
}

var _ xjob.Store = (*MemoryStore)(nil)

// NewMemory 创建内存存储。
func NewMemory(opts ...Option) *MemoryStore {
	return &MemoryStore{opts: applyOptions("", opts), jobs: make(map[string]*xjob.Job)}
}

// CreateJob 保存新作业。
func (s *MemoryStore) CreateJob(ctx context.Context, job *xjob.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateNew(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", xjob.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob 读取作业副本。
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*xjob.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
	}
	return j.Clone(), nil
}

// ListJobs 按创建顺序列出作业副本。
func (s *MemoryStore) ListJobs(ctx context.Context, filter xjob.Filter) ([]*xjob.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*xjob.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Match(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, xjob.CompareAge)
	return out, nil
}

// SetStatus 在锁内校验并应用状态转换。
func (s *MemoryStore) SetStatus(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
	}
	next := j.Clone()
	if err := next.Transition(status, s.opts.now(), opts...); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// DeleteJob 删除作业。
func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}
