package xjobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/storage/xetcd"
)

// EtcdStore 基于 etcd 的作业存储。
//
// 作业以 JSON 保存在 <prefix>/<id>，状态写入比较 ModRevision。
type EtcdStore struct {
	client *xetcd.Client
	opts   *options
}

var _ xjob.Store = (*EtcdStore)(nil)

// NewEtcd 创建 etcd 作业存储。
func NewEtcd(client *xetcd.Client, opts ...Option) (*EtcdStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := applyOptions(DefaultEtcdPrefix, opts)
	o.prefix = strings.TrimSuffix(o.prefix, "/")
	return &EtcdStore{client: client, opts: o}, nil
}

func (s *EtcdStore) key(id string) string { return s.opts.prefix + "/" + id }

// CreateJob 仅当 ID 不存在时写入。
func (s *EtcdStore) CreateJob(ctx context.Context, job *xjob.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("xjobstore: encode job %s: %w", job.ID, err)
	}
	switch err := s.client.Create(ctx, s.key(job.ID), data); {
	case err == nil:
		return nil
	case errors.Is(err, xetcd.ErrKeyExists):
		return fmt.Errorf("%w: %s", xjob.ErrJobExists, job.ID)
	default:
		return s.mapErr("create", err)
	}
}

// GetJob 读取作业。
func (s *EtcdStore) GetJob(ctx context.Context, id string) (*xjob.Job, error) {
	j, _, err := s.get(ctx, id)
	return j, err
}

func (s *EtcdStore) get(ctx context.Context, id string) (*xjob.Job, int64, error) {
	if err := checkID(id); err != nil {
		return nil, 0, err
	}
	data, rev, err := s.client.GetWithRevision(ctx, s.key(id))
	if err != nil {
		if xetcd.IsKeyNotFound(err) {
			return nil, 0, fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
		}
		return nil, 0, s.mapErr("get", err)
	}
	j, err := decodeJob(id, data)
	if err != nil {
		return nil, 0, err
	}
	return j, rev, nil
}

// ListJobs 列出前缀下的全部作业，损坏的记录记录日志后跳过。
func (s *EtcdStore) ListJobs(ctx context.Context, filter xjob.Filter) ([]*xjob.Job, error) {
	kvs, err := s.client.List(ctx, s.opts.prefix+"/")
	if err != nil {
		return nil, s.mapErr("list", err)
	}
	out := make([]*xjob.Job, 0, len(kvs))
	for key, data := range kvs {
		j, err := decodeJob(strings.TrimPrefix(key, s.opts.prefix+"/"), data)
		if err != nil {
			s.opts.logger.Warn(ctx, "skip undecodable job record", xlog.Path(key), xlog.Err(err))
			continue
		}
		if filter.Match(j) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, xjob.CompareAge)
	return out, nil
}

// SetStatus 读取、校验、按 ModRevision 比较写入，冲突时重试。
func (s *EtcdStore) SetStatus(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
	return withConflictRetry(ctx, s.opts, id, func() (*xjob.Job, error) {
		j, rev, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := j.Transition(status, s.opts.now(), opts...); err != nil {
			return nil, err
		}
		data, err := json.Marshal(j)
		if err != nil {
			return nil, fmt.Errorf("xjobstore: encode job %s: %w", id, err)
		}
		switch err := s.client.CompareAndSwap(ctx, s.key(id), data, rev); {
		case err == nil:
			return j, nil
		case errors.Is(err, xetcd.ErrRevisionMismatch):
			s.opts.logger.Debug(ctx, "status write conflict", xlog.JobID(id), slog.Int64("revision", rev))
			return nil, errWriteConflict
		default:
			return nil, s.mapErr("set status", err)
		}
	})
}

// DeleteJob 删除作业。
func (s *EtcdStore) DeleteJob(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	deleted, err := s.client.DeleteIfExists(ctx, s.key(id))
	if err != nil {
		return s.mapErr("delete", err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
	}
	return nil
}

func (s *EtcdStore) mapErr(op string, err error) error {
	if errors.Is(err, xetcd.ErrNilContext) || errors.Is(err, xetcd.ErrEmptyKey) {
		return fmt.Errorf("xjobstore: %s: %w", op, err)
	}
	return unavailable(op, err)
}
