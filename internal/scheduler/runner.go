package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Locker 跨实例任务锁，由 pkg/redis.JobLock 实现。
type Locker interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, job string) error
}

// Job 一个周期任务。
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner 每个任务一个 goroutine，按各自间隔触发；ctx 取消即停止，Wait 等待在途执行结束。
type Runner struct {
	jobs   []Job
	locker Locker
	log    *logrus.Logger
	wg     sync.WaitGroup
}

// NewRunner locker 为 nil 时不加锁，适用于单实例与测试。
func NewRunner(locker Locker, log *logrus.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, locker: locker, log: log}
}

func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		job := job
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.loop(ctx, job)
		}()
	}
	r.log.WithField("jobs", len(r.jobs)).Info("scheduler started")
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx, job)
		}
	}
}

// Tick 执行一次任务；拿不到锁说明其它实例正在执行，本轮跳过。
func (r *Runner) Tick(ctx context.Context, job Job) {
	fields := logrus.Fields{"job": job.Name}
	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx, job.Name, job.Interval)
		if err != nil {
			r.log.WithFields(fields).WithError(err).Warn("job lock unavailable, skipping tick")
			return
		}
		if !ok {
			r.log.WithFields(fields).Debug("job running elsewhere, skipping tick")
			return
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), job.Name); err != nil {
				r.log.WithFields(fields).WithError(err).Warn("job lock release failed")
			}
		}()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.log.WithFields(fields).WithError(err).Error("job failed")
		return
	}
	r.log.WithFields(fields).WithField("elapsed", time.Since(start).String()).Debug("job finished")
}
