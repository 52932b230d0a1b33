package oss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/config"
	"github.com/qs3c/analytic_jobs/internal/repository"
)

// bucket is the subset of *oss.Bucket used here.
type bucket interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
}

// PayloadStore 把分析结果存放到 OSS
type PayloadStore struct {
	bucket bucket
	prefix string
}

var _ repository.PayloadStore = (*PayloadStore)(nil)

func NewPayloadStore(cfg *config.OSSConfig) (*PayloadStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	b, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return newPayloadStore(b, cfg.Prefix), nil
}

func newPayloadStore(b bucket, prefix string) *PayloadStore {
	return &PayloadStore{bucket: b, prefix: strings.Trim(prefix, "/")}
}

// ObjectKey 结果对象的 key
func (s *PayloadStore) ObjectKey(jobID int64) string {
	if s.prefix == "" {
		return fmt.Sprintf("%d.bin", jobID)
	}
	return fmt.Sprintf("%s/%d.bin", s.prefix, jobID)
}

// Put 上传结果，tx 不参与
//
// The upload happens while the job row is locked by the surrounding
// transaction, so only the transition that wins the row ever reaches it.
func (s *PayloadStore) Put(ctx context.Context, tx *gorm.DB, jobID int64, data []byte) error {
	err := s.bucket.PutObject(s.ObjectKey(jobID), bytes.NewReader(data),
		oss.ContentType("application/octet-stream"), oss.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to upload payload: %w", err)
	}
	return nil
}

// Open 打开结果对象，调用方负责 Close
func (s *PayloadStore) Open(ctx context.Context, jobID int64) (io.ReadCloser, error) {
	rc, err := s.bucket.GetObject(s.ObjectKey(jobID), oss.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, repository.ErrPayloadNotFound
		}
		return nil, fmt.Errorf("failed to download payload: %w", err)
	}
	return rc, nil
}

func isNotFound(err error) bool {
	var srvErr oss.ServiceError
	if errors.As(err, &srvErr) {
		return srvErr.StatusCode == http.StatusNotFound || srvErr.Code == "NoSuchKey"
	}
	var srvErrPtr *oss.ServiceError
	if errors.As(err, &srvErrPtr) {
		return srvErrPtr.StatusCode == http.StatusNotFound || srvErrPtr.Code == "NoSuchKey"
	}
	return false
}
