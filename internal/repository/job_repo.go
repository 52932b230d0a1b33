package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/internal/model"
)

var (
	ErrJobNotFound     = errors.New("分析任务不存在")
	ErrPayloadNotFound = errors.New("分析结果不存在")
)

// PayloadStore 结果数据存储
//
// Put runs inside the transaction that moves the job to FINISHED; a failing
// Put rolls the transition back. Open returns a handle that must be closed.
type PayloadStore interface {
	Put(ctx context.Context, tx *gorm.DB, jobID int64, data []byte) error
	Open(ctx context.Context, jobID int64) (io.ReadCloser, error)
}

type JobRepository struct {
	db       *gorm.DB
	payloads PayloadStore
}

// NewJobRepository 创建任务仓储，payloads 为 nil 时结果存放在数据库
func NewJobRepository(db *gorm.DB, payloads PayloadStore) *JobRepository {
	if payloads == nil {
		payloads = NewDBPayloadStore(db)
	}
	return &JobRepository{db: db, payloads: payloads}
}

// Create 插入任务及其表达式列表
func (r *JobRepository) Create(ctx context.Context, job *model.AnalyticJob) error {
	if job.ID != 0 {
		return fmt.Errorf("%w: job already has id %d", model.ErrValidation, job.ID)
	}
	if job.State != model.JobStateWaiting {
		return fmt.Errorf("%w: new jobs must be %s", model.ErrValidation, model.JobStateWaiting)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return writeExpressions(tx, job)
	})
}

// GetByID 读取任务，表达式一并加载，结果数据不加载
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*model.AnalyticJob, error) {
	var job model.AnalyticJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if err := r.loadExpressions(ctx, []*model.AnalyticJob{&job}); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListBySearchID 获取某个检索下的全部任务
func (r *JobRepository) ListBySearchID(ctx context.Context, searchID int64) ([]*model.AnalyticJob, error) {
	var jobs []*model.AnalyticJob
	err := r.db.WithContext(ctx).
		Where("search_id = ?", searchID).
		Order("id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadExpressions(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByState 按创建顺序获取指定状态的任务
func (r *JobRepository) ListByState(ctx context.Context, state model.JobState, limit int) ([]*model.AnalyticJob, error) {
	var jobs []*model.AnalyticJob
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadExpressions(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListStale 获取 started_at 早于 before 仍在运行的任务
func (r *JobRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*model.AnalyticJob, error) {
	var jobs []*model.AnalyticJob
	err := r.db.WithContext(ctx).
		Where("state = ? AND started_at < ?", model.JobStateRunning, before).
		Order("started_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadExpressions(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByState 统计各状态任务数量，searchID 为 0 时统计全部
func (r *JobRepository) CountByState(ctx context.Context, searchID int64) (map[model.JobState]int64, error) {
	var rows []struct {
		State model.JobState
		Total int64
	}

	q := r.db.WithContext(ctx).Model(&model.AnalyticJob{}).Select("state, COUNT(*) AS total")
	if searchID != 0 {
		q = q.Where("search_id = ?", searchID)
	}
	if err := q.Group("state").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.JobState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}

// SaveTransition 持久化一次状态迁移
//
// The update only applies while the stored row is still in state from with the
// version the caller loaded; otherwise ErrConcurrentModification is returned
// and nothing is written. A FINISHED job stores its payload in the same
// transaction.
func (r *JobRepository) SaveTransition(ctx context.Context, job *model.AnalyticJob, from model.JobState) error {
	if job.State == from {
		return fmt.Errorf("%w: job %d is already %s", model.ErrInvalidState, job.ID, from)
	}

	var payload []byte
	if job.State == model.JobStateFinished {
		data, err := job.ResultPayload()
		if err != nil {
			return err
		}
		payload = data
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AnalyticJob{}).
			Where("id = ? AND state = ? AND version = ?", job.ID, from, job.Version).
			Updates(map[string]interface{}{
				"state":       job.State,
				"started_at":  job.StartedAt,
				"finished_at": job.FinishedAt,
				"version":     job.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.conflict(tx, job.ID)
		}

		if payload != nil {
			if err := r.payloads.Put(ctx, tx, job.ID, payload); err != nil {
				return fmt.Errorf("failed to store payload: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	job.Version++
	return nil
}

// UpdateExpressions 替换表达式，仅在库中仍为 WAITING 时生效
func (r *JobRepository) UpdateExpressions(ctx context.Context, job *model.AnalyticJob) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AnalyticJob{}).
			Where("id = ? AND state = ? AND version = ?", job.ID, model.JobStateWaiting, job.Version).
			Update("version", job.Version+1)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.conflict(tx, job.ID)
		}

		if err := tx.Where("id = ?", job.ID).Delete(&model.AnalyticJobExpression{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", job.ID).Delete(&model.AnalyticJobOppositeExpression{}).Error; err != nil {
			return err
		}
		return writeExpressions(tx, job)
	})
	if err != nil {
		return err
	}

	job.Version++
	return nil
}

// WithPayload 打开结果数据句柄，fn 返回后句柄一定被释放
func (r *JobRepository) WithPayload(ctx context.Context, jobID int64, fn func(io.Reader) error) error {
	rc, err := r.payloads.Open(ctx, jobID)
	if err != nil {
		return err
	}
	defer rc.Close()

	return fn(rc)
}

// LoadPayload 按需加载结果数据到任务上
func (r *JobRepository) LoadPayload(ctx context.Context, job *model.AnalyticJob) error {
	if job.State != model.JobStateFinished {
		return fmt.Errorf("%w: job %d is %s", model.ErrNotAvailable, job.ID, job.State)
	}
	if job.HasPayload() {
		return nil
	}

	return r.WithPayload(ctx, job.ID, func(rd io.Reader) error {
		data, err := io.ReadAll(rd)
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		return job.AttachPayload(data)
	})
}

// conflict tells a missing row apart from a lost race.
func (r *JobRepository) conflict(tx *gorm.DB, id int64) error {
	var current model.AnalyticJob
	err := tx.Select("id", "state", "version").Where("id = ?", id).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is now %s (version %d)",
		model.ErrConcurrentModification, id, current.State, current.Version)
}

func writeExpressions(tx *gorm.DB, job *model.AnalyticJob) error {
	if len(job.Expressions) > 0 {
		rows := make([]model.AnalyticJobExpression, len(job.Expressions))
		for i, v := range job.Expressions {
			rows[i] = model.AnalyticJobExpression{JobID: job.ID, Position: i, Value: v}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}

	if len(job.ExpressionsOpposite) > 0 {
		rows := make([]model.AnalyticJobOppositeExpression, len(job.ExpressionsOpposite))
		for i, v := range job.ExpressionsOpposite {
			rows[i] = model.AnalyticJobOppositeExpression{JobID: job.ID, Position: i, Value: v}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *JobRepository) loadExpressions(ctx context.Context, jobs []*model.AnalyticJob) error {
	if len(jobs) == 0 {
		return nil
	}

	ids := make([]int64, len(jobs))
	byID := make(map[int64]*model.AnalyticJob, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
		job.Expressions = []string{}
		job.ExpressionsOpposite = []string{}
		byID[job.ID] = job
	}

	var exprs []model.AnalyticJobExpression
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC, position ASC").Find(&exprs).Error; err != nil {
		return err
	}
	for _, e := range exprs {
		job := byID[e.JobID]
		job.Expressions = append(job.Expressions, e.Value)
	}

	var opposite []model.AnalyticJobOppositeExpression
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC, position ASC").Find(&opposite).Error; err != nil {
		return err
	}
	for _, e := range opposite {
		job := byID[e.JobID]
		job.ExpressionsOpposite = append(job.ExpressionsOpposite, e.Value)
	}
	return nil
}
