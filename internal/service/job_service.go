package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/analytic_jobs/internal/logger"
	"github.com/qs3c/analytic_jobs/internal/model"
	"github.com/qs3c/analytic_jobs/internal/model/dto"
	"github.com/qs3c/analytic_jobs/internal/pkg/audit"
	"github.com/qs3c/analytic_jobs/internal/pkg/pubsub"
	"github.com/qs3c/analytic_jobs/internal/pkg/queue"
	"github.com/qs3c/analytic_jobs/internal/repository"
)

// JobService 分析任务的提交、查询与状态迁移
//
// queue and publisher may be nil; the job record is the source of truth and a
// WAITING job that was never enqueued is picked up again by Requeue.
type JobService struct {
	jobRepo    *repository.JobRepository
	searchRepo *repository.SearchRepository
	queue      *queue.Queue
	publisher  *pubsub.Publisher
	log        *logrus.Entry
}

func NewJobService(
	jobRepo *repository.JobRepository,
	searchRepo *repository.SearchRepository,
	q *queue.Queue,
	publisher *pubsub.Publisher,
) *JobService {
	return &JobService{
		jobRepo:    jobRepo,
		searchRepo: searchRepo,
		queue:      q,
		publisher:  publisher,
		log:        logger.WithComponent("job_service"),
	}
}

// Submit 创建任务并加入队列
func (s *JobService) Submit(ctx context.Context, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
	jobType, err := model.ParseJobType(req.Type)
	if err != nil {
		return nil, err
	}

	job, err := model.NewAnalyticJob(model.CreateParams{
		SearchID:               req.SearchID,
		Type:                   jobType,
		Expressions:            req.Expressions,
		ExpressionsOpposite:    req.ExpressionsOpposite,
		ContextSize:            req.ContextSize,
		Limit:                  req.Limit,
		UseOnlyDomains:         req.UseOnlyDomains,
		UseOnlyDomainsOpposite: req.UseOnlyDomainsOpposite,
	})
	if err != nil {
		return nil, err
	}

	exists, err := s.searchRepo.Exists(ctx, req.SearchID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrSearchNotFound
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}
	s.publish(ctx, job, "", "")

	resp := &dto.SubmitJobResponse{JobID: job.ID}
	if err := s.enqueue(ctx, job); err != nil {
		// 任务仍为 WAITING，Requeue 会重新投递
		s.log.WithError(err).WithField("job_id", job.ID).Warn("failed to enqueue job")
		return resp, nil
	}
	resp.Enqueued = true

	return resp, nil
}

// Get 获取任务详情
func (s *JobService) Get(ctx context.Context, id int64) (*dto.JobDetail, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return buildJobDetail(job), nil
}

// ListBySearch 获取检索下的任务列表
func (s *JobService) ListBySearch(ctx context.Context, searchID int64) ([]*dto.JobDetail, error) {
	jobs, err := s.jobRepo.ListBySearchID(ctx, searchID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.JobDetail, len(jobs))
	for i, job := range jobs {
		items[i] = buildJobDetail(job)
	}
	return items, nil
}

// UpdateExpressions 修改等待中任务的表达式
func (s *JobService) UpdateExpressions(ctx context.Context, id int64, expressions, opposite []string) (*dto.JobDetail, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := job.SetExpressions(expressions, opposite); err != nil {
		return nil, err
	}
	if err := s.jobRepo.UpdateExpressions(ctx, job); err != nil {
		return nil, err
	}

	return buildJobDetail(job), nil
}

// Result 读取已完成任务的结果数据
func (s *JobService) Result(ctx context.Context, id int64) ([]byte, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.jobRepo.LoadPayload(ctx, job); err != nil {
		return nil, err
	}
	return job.ResultPayload()
}

// WriteResult 把结果数据直接写到 w，不在内存中整体保留
func (s *JobService) WriteResult(ctx context.Context, id int64, w io.Writer) (int64, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if job.State != model.JobStateFinished {
		return 0, fmt.Errorf("%w: job %d is %s", model.ErrNotAvailable, job.ID, job.State)
	}

	var n int64
	err = s.jobRepo.WithPayload(ctx, id, func(r io.Reader) error {
		var err error
		n, err = io.Copy(w, r)
		return err
	})
	return n, err
}

// Requeue 重新投递等待中的任务，返回投递数量
func (s *JobService) Requeue(ctx context.Context, limit int) (int, error) {
	if s.queue == nil {
		return 0, errors.New("queue not configured")
	}

	jobs, err := s.jobRepo.ListByState(ctx, model.JobStateWaiting, limit)
	if err != nil {
		return 0, err
	}

	for i, job := range jobs {
		if err := s.enqueue(ctx, job); err != nil {
			return i, err
		}
	}
	return len(jobs), nil
}

// Start 标记任务开始执行
func (s *JobService) Start(ctx context.Context, id int64) (*model.AnalyticJob, error) {
	return s.transition(ctx, id, "", func(job *model.AnalyticJob) error {
		return job.Start()
	})
}

// Complete 标记任务完成并保存结果
func (s *JobService) Complete(ctx context.Context, id int64, payload []byte) (*model.AnalyticJob, error) {
	return s.transition(ctx, id, "", func(job *model.AnalyticJob) error {
		return job.Complete(payload)
	})
}

// Fail 标记任务失败，reason 仅用于事件和日志
func (s *JobService) Fail(ctx context.Context, id int64, reason string) (*model.AnalyticJob, error) {
	return s.transition(ctx, id, reason, func(job *model.AnalyticJob) error {
		return job.Fail()
	})
}

// Stats 统计各状态任务数量
func (s *JobService) Stats(ctx context.Context, searchID int64) (*dto.JobStats, error) {
	counts, err := s.jobRepo.CountByState(ctx, searchID)
	if err != nil {
		return nil, err
	}

	stats := &dto.JobStats{
		SearchID: searchID,
		ByState:  make(map[string]int64, len(model.JobStates)),
	}
	for _, state := range model.JobStates {
		stats.ByState[string(state)] = counts[state]
		stats.Total += counts[state]
	}
	return stats, nil
}

func (s *JobService) transition(ctx context.Context, id int64, reason string, apply func(*model.AnalyticJob) error) (*model.AnalyticJob, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := job.State
	if err := apply(job); err != nil {
		return nil, err
	}
	if err := s.jobRepo.SaveTransition(ctx, job, from); err != nil {
		return nil, err
	}

	s.publish(ctx, job, from, reason)
	return job, nil
}

func (s *JobService) enqueue(ctx context.Context, job *model.AnalyticJob) error {
	if s.queue == nil {
		return errors.New("queue not configured")
	}
	return s.queue.Push(ctx, &queue.JobMessage{
		JobID:    job.ID,
		SearchID: job.SearchID,
		Type:     string(job.Type),
	})
}

func (s *JobService) publish(ctx context.Context, job *model.AnalyticJob, from model.JobState, reason string) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.PublishState(ctx, &pubsub.StateMessage{
		JobID:    job.ID,
		SearchID: job.SearchID,
		JobType:  string(job.Type),
		From:     string(from),
		State:    string(job.State),
		Actor:    audit.ActorFrom(ctx),
		Error:    reason,
	})
	if err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("failed to publish job state")
	}
}

func buildJobDetail(job *model.AnalyticJob) *dto.JobDetail {
	detail := &dto.JobDetail{
		ID:                     job.ID,
		SearchID:               job.SearchID,
		State:                  string(job.State),
		Type:                   string(job.Type),
		Expressions:            job.Expressions,
		ExpressionsOpposite:    job.ExpressionsOpposite,
		ContextSize:            job.ContextSize,
		Limit:                  job.Limit,
		UseOnlyDomains:         job.UseOnlyDomains,
		UseOnlyDomainsOpposite: job.UseOnlyDomainsOpposite,
		CreatedAt:              job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              job.UpdatedAt.Format(time.RFC3339),
		CreatedBy:              job.CreatedBy,
	}

	if job.StartedAt != nil {
		detail.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		detail.FinishedAt = job.FinishedAt.Format(time.RFC3339)
		if job.StartedAt != nil {
			detail.ElapsedSeconds = int(job.FinishedAt.Sub(*job.StartedAt).Seconds())
		}
	}

	return detail
}
