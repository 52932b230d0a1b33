package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/analytic_jobs/internal/logger"
	"github.com/qs3c/analytic_jobs/internal/model"
	"github.com/qs3c/analytic_jobs/internal/pkg/audit"
	"github.com/qs3c/analytic_jobs/internal/pkg/lock"
	"github.com/qs3c/analytic_jobs/internal/pkg/queue"
	"github.com/qs3c/analytic_jobs/internal/repository"
	"github.com/qs3c/analytic_jobs/internal/service"
)

// Processor 任务处理器
type Processor struct {
	jobService *service.JobService
	locker     *lock.Locker
	analyzers  Registry
	actor      string
}

// NewProcessor 创建任务处理器，actor 记录到审计字段
func NewProcessor(
	jobService *service.JobService,
	locker *lock.Locker,
	analyzers Registry,
	actor string,
) *Processor {
	if actor == "" {
		actor = "worker"
	}
	return &Processor{
		jobService: jobService,
		locker:     locker,
		analyzers:  analyzers,
		actor:      actor,
	}
}

// Process 处理一条队列消息
//
// Messages for jobs that are locked, already started or gone are dropped and
// reported as success; only infrastructure failures are returned.
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	log := logger.WithJob(msg.JobID, msg.Type)
	ctx = audit.WithActor(ctx, p.actor)

	lk, err := p.locker.Acquire(ctx, msg.JobID)
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Info("job locked by another worker, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	log = log.WithField("lock_token", lk.Token())
	defer func() {
		if err := lk.Release(context.Background()); err != nil {
			log.WithError(err).Warn("failed to release job lock")
		}
	}()

	stop := p.keepAlive(ctx, lk, log)
	defer stop()

	job, err := p.jobService.Start(ctx, msg.JobID)
	if err != nil {
		if isStale(err) {
			log.WithError(err).Info("job no longer waiting, skipping")
			return nil
		}
		return fmt.Errorf("failed to start job: %w", err)
	}
	log.Info("job started")

	payload, err := p.run(ctx, job)
	if err != nil {
		return p.fail(ctx, job.ID, err, log)
	}

	// 分析已结束，关闭信号不应丢弃结果
	if _, err := p.jobService.Complete(context.WithoutCancel(ctx), job.ID, payload); err != nil {
		if errors.Is(err, model.ErrValidation) {
			return p.fail(ctx, job.ID, err, log)
		}
		if isStale(err) {
			log.WithError(err).Warn("job changed while running, result discarded")
			return nil
		}
		return fmt.Errorf("failed to complete job: %w", err)
	}

	log.WithFields(logrus.Fields{
		"bytes":   len(payload),
		"elapsed": time.Since(*job.StartedAt).Round(time.Millisecond).String(),
	}).Info("job finished")
	return nil
}

func (p *Processor) run(ctx context.Context, job *model.AnalyticJob) ([]byte, error) {
	analyzer, err := p.analyzers.Lookup(job.Type)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(ctx, ParamsFromJob(job))
}

func (p *Processor) fail(ctx context.Context, jobID int64, cause error, log *logrus.Entry) error {
	log.WithError(rawError(cause)).Warn("job failed")

	// 关闭时 ctx 已取消，仍需记录失败
	ctx = context.WithoutCancel(ctx)
	if _, err := p.jobService.Fail(ctx, jobID, cause.Error()); err != nil {
		if isStale(err) {
			log.WithError(err).Warn("job changed while running, failure not recorded")
			return nil
		}
		return fmt.Errorf("failed to mark job as failed: %w", err)
	}
	return nil
}

// keepAlive refreshes the lock at half its TTL until the returned func is called.
func (p *Processor) keepAlive(ctx context.Context, lk *lock.Lock, log *logrus.Entry) func() {
	interval := p.locker.TTL() / 2
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lk.Refresh(ctx); err != nil {
					log.WithError(err).Warn("failed to refresh job lock")
				}
			}
		}
	}()

	return func() { close(done) }
}

func isStale(err error) bool {
	return errors.Is(err, model.ErrInvalidState) ||
		errors.Is(err, model.ErrConcurrentModification) ||
		errors.Is(err, repository.ErrJobNotFound)
}

func rawError(err error) error {
	var ae *AnalyzerError
	if errors.As(err, &ae) && ae.RawError != nil {
		return ae.RawError
	}
	return err
}
