package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/internal/model"
)

var ErrSearchNotFound = errors.New("检索不存在")

type SearchRepository struct {
	db *gorm.DB
}

func NewSearchRepository(db *gorm.DB) *SearchRepository {
	return &SearchRepository{db: db}
}

func (r *SearchRepository) Create(ctx context.Context, search *model.Search) error {
	return r.db.WithContext(ctx).Create(search).Error
}

func (r *SearchRepository) GetByID(ctx context.Context, id int64) (*model.Search, error) {
	var search model.Search
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&search).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSearchNotFound
		}
		return nil, err
	}
	return &search, nil
}

// Exists 仅检查检索是否存在，不读取内容
func (r *SearchRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Search{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
