package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/analytic_jobs/internal/logger"
	"github.com/qs3c/analytic_jobs/internal/model"
	"github.com/qs3c/analytic_jobs/internal/pkg/audit"
	"github.com/qs3c/analytic_jobs/internal/repository"
	"github.com/qs3c/analytic_jobs/internal/service"
)

const (
	reaperActor = "reaper"
	reapBatch   = 100
)

// Service 定时回收超时任务
type Service struct {
	jobService *service.JobService
	jobRepo    *repository.JobRepository
	staleAfter time.Duration
	interval   time.Duration
	stopChan   chan struct{}
	log        *logrus.Entry
}

func NewService(
	jobService *service.JobService,
	jobRepo *repository.JobRepository,
	staleAfter time.Duration,
	interval time.Duration,
) *Service {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{
		jobService: jobService,
		jobRepo:    jobRepo,
		staleAfter: staleAfter,
		interval:   interval,
		stopChan:   make(chan struct{}),
		log:        logger.WithComponent("cron"),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runReaper()
	s.log.WithFields(logrus.Fields{
		"stale_after": s.staleAfter.String(),
		"interval":    s.interval.String(),
	}).Info("cron service started (stale job reaper)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	s.log.Info("cron service stopped")
}

func (s *Service) runReaper() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				s.log.WithError(err).Error("failed to reap stale jobs")
			}
		}
	}
}

// RunNow 立即回收一次，返回被标记为失败的任务数
//
// Jobs that finish or fail concurrently are skipped; the conditional update
// makes the reaper safe to run on every worker.
func (s *Service) RunNow(ctx context.Context) (int, error) {
	ctx = audit.WithActor(ctx, reaperActor)
	before := time.Now().Add(-s.staleAfter)

	jobs, err := s.jobRepo.ListStale(ctx, before, reapBatch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, job := range jobs {
		reason := fmt.Sprintf("执行超时（超过 %s 未完成）", s.staleAfter)
		_, err := s.jobService.Fail(ctx, job.ID, reason)
		switch {
		case err == nil:
			reaped++
		case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConcurrentModification):
			continue
		default:
			return reaped, err
		}
	}

	if reaped > 0 {
		s.log.WithField("count", reaped).Warn("reaped stale jobs")
	}
	return reaped, nil
}
