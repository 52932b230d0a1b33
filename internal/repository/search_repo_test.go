package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/analytic_jobs/internal/model"
	"github.com/qs3c/analytic_jobs/internal/pkg/audit"
	"github.com/qs3c/analytic_jobs/internal/testutil"
)

func TestSearchRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSearchRepository(db)
	ctx := audit.WithActor(context.Background(), "alice")

	search := &model.Search{
		Name:      "Czech web 2020",
		State:     model.SearchStateDone,
		StopWords: model.StringArray{"a", "i", "v"},
	}
	require.NoError(t, repo.Create(ctx, search))
	assert.NotZero(t, search.ID)

	found, err := repo.GetByID(context.Background(), search.ID)
	require.NoError(t, err)
	assert.Equal(t, "Czech web 2020", found.Name)
	assert.Equal(t, model.StringArray{"a", "i", "v"}, found.StopWords)
	assert.Equal(t, "alice", found.CreatedBy)
	assert.Equal(t, "alice", found.UpdatedBy)
}

func TestSearchRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSearchRepository(db)

	_, err := repo.GetByID(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrSearchNotFound)
}

func TestSearchRepository_Exists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSearchRepository(db)
	search := testutil.TestSearch(t, db)

	ok, err := repo.Exists(context.Background(), search.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(context.Background(), search.ID+1)
	require.NoError(t, err)
	assert.False(t, ok)
}
