package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/config"
	"github.com/qs3c/analytic_jobs/internal/pkg/oss"
	"github.com/qs3c/analytic_jobs/internal/repository"
)

// NewPayloadStore 按 storage.payload_backend 选择结果存储
func NewPayloadStore(cfg *config.Config, db *gorm.DB) (repository.PayloadStore, error) {
	switch cfg.Storage.PayloadBackend {
	case "", "db":
		return repository.NewDBPayloadStore(db), nil
	case "oss":
		return oss.NewPayloadStore(&cfg.OSS)
	default:
		return nil, fmt.Errorf("unsupported payload backend %q", cfg.Storage.PayloadBackend)
	}
}
