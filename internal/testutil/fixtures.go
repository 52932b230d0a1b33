package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/internal/model"
)

// TestSearch 创建测试检索
func TestSearch(t *testing.T, db *gorm.DB, opts ...func(*model.Search)) *model.Search {
	t.Helper()

	search := &model.Search{
		Name:      fmt.Sprintf("Test Search %d", time.Now().UnixNano()%10000),
		State:     model.SearchStateDone,
		StopWords: model.StringArray{"a", "the"},
	}

	for _, opt := range opts {
		opt(search)
	}

	if err := db.Create(search).Error; err != nil {
		t.Fatalf("Failed to create test search: %v", err)
	}

	return search
}

// WithSearchState 设置检索状态
func WithSearchState(state model.SearchState) func(*model.Search) {
	return func(s *model.Search) {
		s.State = state
	}
}

// TestJob 直接写库创建任务（绕过仓储）
//
// Running and terminal jobs get timestamps consistent with their state;
// finished jobs get a payload row containing payload.
func TestJob(t *testing.T, db *gorm.DB, searchID int64, state model.JobState, payload ...byte) *model.AnalyticJob {
	t.Helper()

	job := &model.AnalyticJob{
		SearchID:            searchID,
		State:               state,
		Type:                model.JobTypeFrequency,
		Expressions:         []string{},
		ExpressionsOpposite: []string{},
	}

	now := time.Now()
	if state != model.JobStateWaiting {
		started := now.Add(-time.Minute)
		job.StartedAt = &started
	}
	if state.Terminal() {
		job.FinishedAt = &now
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	if state == model.JobStateFinished {
		if len(payload) == 0 {
			payload = []byte("result")
		}
		result := &model.AnalyticJobResult{JobID: job.ID, Data: payload}
		if err := db.Create(result).Error; err != nil {
			t.Fatalf("Failed to create test job result: %v", err)
		}
	}

	return job
}

// StartedAgo 把任务的 started_at 改到指定时长之前
func StartedAgo(t *testing.T, db *gorm.DB, jobID int64, d time.Duration) {
	t.Helper()

	started := time.Now().Add(-d)
	err := db.Model(&model.AnalyticJob{}).Where("id = ?", jobID).Update("started_at", started).Error
	if err != nil {
		t.Fatalf("Failed to backdate job %d: %v", jobID, err)
	}
}
