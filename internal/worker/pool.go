package worker

import (
	"context"
	"sync"
	"time"

	"github.com/qs3c/analytic_jobs/internal/logger"
	"github.com/qs3c/analytic_jobs/internal/pkg/queue"
)

// Handler 处理单条队列消息
type Handler interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

// Pool 固定数量的 worker 从队列拉取任务
type Pool struct {
	queue      *queue.Queue
	handler    Handler
	workers    int
	popTimeout time.Duration
}

func NewPool(q *queue.Queue, handler Handler, workers int, popTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &Pool{
		queue:      q,
		handler:    handler,
		workers:    workers,
		popTimeout: popTimeout,
	}
}

// Run 阻塞直到 ctx 取消且所有 worker 退出
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	log := logger.WithWorker(workerID)

	for {
		if ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		msg, err := p.queue.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("failed to pop job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if msg == nil {
			continue // 超时，继续等待
		}

		log.WithField("job_id", msg.JobID).Debug("processing job")
		if err := p.handler.Process(ctx, msg); err != nil {
			log.WithError(err).WithField("job_id", msg.JobID).Error("job processing failed")
		}
	}
}
