package repository

import (
	"bytes"
	"context"
	"database/sql"
	"io"

	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/internal/model"
)

// DBPayloadStore 结果数据存放在 analytic_query_data 表
type DBPayloadStore struct {
	db *gorm.DB
}

func NewDBPayloadStore(db *gorm.DB) *DBPayloadStore {
	return &DBPayloadStore{db: db}
}

// Put 写入结果，一个任务只能写一次
func (s *DBPayloadStore) Put(ctx context.Context, tx *gorm.DB, jobID int64, data []byte) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Create(&model.AnalyticJobResult{JobID: jobID, Data: data}).Error
}

// Open keeps the underlying rows (and their connection) until Close.
func (s *DBPayloadStore) Open(ctx context.Context, jobID int64) (io.ReadCloser, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&model.AnalyticJobResult{}).
		Select("data").
		Where("job_id = ?", jobID).
		Rows()
	if err != nil {
		return nil, err
	}

	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		return nil, ErrPayloadNotFound
	}

	var data []byte
	if err := rows.Scan(&data); err != nil {
		rows.Close()
		return nil, err
	}

	return &payloadReader{Reader: bytes.NewReader(data), rows: rows}, nil
}

var _ PayloadStore = (*DBPayloadStore)(nil)

type payloadReader struct {
	*bytes.Reader
	rows *sql.Rows
}

func (r *payloadReader) Close() error {
	return r.rows.Close()
}
