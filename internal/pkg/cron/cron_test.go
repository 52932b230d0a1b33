package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/internal/model"
	"github.com/qs3c/analytic_jobs/internal/repository"
	"github.com/qs3c/analytic_jobs/internal/service"
	"github.com/qs3c/analytic_jobs/internal/testutil"
)

func setupCronService(t *testing.T) (*Service, *gorm.DB, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)

	jobRepo := repository.NewJobRepository(db, nil)
	jobService := service.NewJobService(jobRepo, repository.NewSearchRepository(db), nil, nil)
	cronService := NewService(jobService, jobRepo, time.Hour, time.Minute)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return cronService, db, cleanup
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(nil, nil, 0, 0)
	assert.NotNil(t, svc)
	assert.Equal(t, 2*time.Hour, svc.staleAfter)
	assert.Equal(t, 5*time.Minute, svc.interval)
	assert.NotNil(t, svc.stopChan)
}

func TestService_StartAndStop(t *testing.T) {
	svc, _, cleanup := setupCronService(t)
	defer cleanup()

	svc.Start()
	time.Sleep(10 * time.Millisecond)
	svc.Stop()
	time.Sleep(10 * time.Millisecond)
}

func TestService_RunNow(t *testing.T) {
	svc, db, cleanup := setupCronService(t)
	defer cleanup()

	ctx := context.Background()
	search := testutil.TestSearch(t, db)

	stale := testutil.TestJob(t, db, search.ID, model.JobStateRunning)
	testutil.StartedAgo(t, db, stale.ID, 3*time.Hour)
	fresh := testutil.TestJob(t, db, search.ID, model.JobStateRunning)
	waiting := testutil.TestJob(t, db, search.ID, model.JobStateWaiting)
	finished := testutil.TestJob(t, db, search.ID, model.JobStateFinished)
	testutil.StartedAgo(t, db, finished.ID, 3*time.Hour)

	n, err := svc.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	repo := repository.NewJobRepository(db, nil)

	reaped, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateError, reaped.State)
	assert.NotNil(t, reaped.FinishedAt)
	assert.Equal(t, reaperActor, reaped.UpdatedBy)

	for id, want := range map[int64]model.JobState{
		fresh.ID:    model.JobStateRunning,
		waiting.ID:  model.JobStateWaiting,
		finished.ID: model.JobStateFinished,
	} {
		job, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, job.State)
	}

	// 再次执行没有可回收的任务
	n, err = svc.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
