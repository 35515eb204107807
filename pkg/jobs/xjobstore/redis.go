package xjobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// RedisStore 基于 redis 的作业存储。
//
// 作业以 JSON 保存在 {prefix}:job:<id>，全部 ID 记录在集合 {prefix}:ids。
// 前缀使用 hash tag，集群模式下同一前缀的键落在同一槽位，MULTI 事务可用。
type RedisStore struct {
	rdb  redis.UniversalClient
	opts *options
}

var _ xjob.Store = (*RedisStore)(nil)

// NewRedis 创建 redis 作业存储。
func NewRedis(rdb redis.UniversalClient, opts ...Option) (*RedisStore, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	o := applyOptions(DefaultRedisPrefix, opts)
	o.prefix = strings.Trim(o.prefix, "{}:")
	return &RedisStore{rdb: rdb, opts: o}, nil
}

func (s *RedisStore) key(id string) string { return "{" + s.opts.prefix + "}:job:" + id }

func (s *RedisStore) indexKey() string { return "{" + s.opts.prefix + "}:ids" }

// CreateJob 在 WATCH 保护下检查并写入作业与索引。
func (s *RedisStore) CreateJob(ctx context.Context, job *xjob.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("xjobstore: encode job %s: %w", job.ID, err)
	}
	key := s.key(job.ID)
	_, err = withConflictRetry(ctx, s.opts, job.ID, func() (struct{}, error) {
		return struct{}{}, s.watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: %s", xjob.ErrJobExists, job.ID)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.SAdd(ctx, s.indexKey(), job.ID)
				return nil
			})
			return err
		}, "create", key)
	})
	return err
}

// GetJob 读取作业。
func (s *RedisStore) GetJob(ctx context.Context, id string) (*xjob.Job, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
		}
		return nil, unavailable("get", err)
	}
	return decodeJob(id, data)
}

// ListJobs 读取索引集合后批量 MGET，索引中已不存在的 ID 被忽略。
func (s *RedisStore) ListJobs(ctx context.Context, filter xjob.Filter) ([]*xjob.Job, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}

	out := make([]*xjob.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		j, err := decodeJob(ids[i], []byte(raw))
		if err != nil {
			s.opts.logger.Warn(ctx, "skip undecodable job record", xlog.JobID(ids[i]), xlog.Err(err))
			continue
		}
		if filter.Match(j) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, xjob.CompareAge)
	return out, nil
}

// SetStatus 在 WATCH 保护下读取、校验并写入，事务被打断时重试。
func (s *RedisStore) SetStatus(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	key := s.key(id)
	return withConflictRetry(ctx, s.opts, id, func() (*xjob.Job, error) {
		var updated *xjob.Job
		err := s.watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
				}
				return err
			}
			j, err := decodeJob(id, data)
			if err != nil {
				return err
			}
			if err := j.Transition(status, s.opts.now(), opts...); err != nil {
				return err
			}
			next, err := json.Marshal(j)
			if err != nil {
				return fmt.Errorf("xjobstore: encode job %s: %w", id, err)
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			}); err != nil {
				return err
			}
			updated = j
			return nil
		}, "set status", key)
		return updated, err
	})
}

// DeleteJob 删除作业及其索引项。
func (s *RedisStore) DeleteJob(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return unavailable("delete", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
	}
	return nil
}

// watch 执行 WATCH 事务并归类错误：领域错误原样返回，事务冲突返回 errWriteConflict。
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, op string, keys ...string) error {
	err := s.rdb.Watch(ctx, fn, keys...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return errWriteConflict
	case isDomainErr(err):
		return err
	default:
		return unavailable(op, err)
	}
}

func isDomainErr(err error) bool {
	for _, target := range []error{
		xjob.ErrJobNotFound, xjob.ErrJobExists, xjob.ErrInvalidTransition,
		xjob.ErrInvalidStatus, xjob.ErrInvalidJob, errDecode,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decodeJob(id string, data []byte) (*xjob.Job, error) {
	var j xjob.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w %s: %w", errDecode, id, err)
	}
	return &j, nil
}
