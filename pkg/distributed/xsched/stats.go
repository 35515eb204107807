package xsched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

// Stats 节点运行统计，并发安全。
type Stats struct {
	polls         atomic.Int64
	dispatched    atomic.Int64
	succeeded     atomic.Int64
	failed        atomic.Int64
	stopped       atomic.Int64
	contended     atomic.Int64
	storeFailures atomic.Int64
	orphans       atomic.Int64
	cleaned       atomic.Int64

	mu        sync.RWMutex
	lastPoll  time.Time
	lastError error
}

// StatsSnapshot 某一时刻的统计副本。
type StatsSnapshot struct {
	Polls      int64
	Dispatched int64
	Succeeded  int64
	Failed     int64
	// Stopped 执行中观察到外部 STOP / DISCARD 的次数。
	Stopped int64
	// Contended 因锁被其他节点持有而跳过的次数。
	Contended     int64
	StoreFailures int64
	// Orphans 恢复的孤儿作业数。
	Orphans   int64
	Cleaned   int64
	LastPoll  time.Time
	LastError error
}

func (s *Stats) recordPoll(at time.Time, err error) {
	s.polls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = at
	s.lastError = err
}

func (s *Stats) recordOutcome(o outcome) {
	switch {
	case o.stopped:
		s.stopped.Add(1)
	case o.status == xjob.StatusSucceed:
		s.succeeded.Add(1)
	default:
		s.failed.Add(1)
	}
}

// Snapshot 返回统计副本。
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsSnapshot{
		Polls:         s.polls.Load(),
		Dispatched:    s.dispatched.Load(),
		Succeeded:     s.succeeded.Load(),
		Failed:        s.failed.Load(),
		Stopped:       s.stopped.Load(),
		Contended:     s.contended.Load(),
		StoreFailures: s.storeFailures.Load(),
		Orphans:       s.orphans.Load(),
		Cleaned:       s.cleaned.Load(),
		LastPoll:      s.lastPoll,
		LastError:     s.lastError,
	}
}
