package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DSN 返回 MySQL 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr 返回 host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type QueueConfig struct {
	AnalysisQueue     string `mapstructure:"analysis_queue"`
	MaxWorkers        int    `mapstructure:"max_workers"`
	PopTimeoutSeconds int    `mapstructure:"pop_timeout_seconds"`
}

// PopTimeout 阻塞读取队列的超时时间
func (c QueueConfig) PopTimeout() time.Duration {
	return time.Duration(c.PopTimeoutSeconds) * time.Second
}

type WorkerConfig struct {
	LockTTLSeconds         int               `mapstructure:"lock_ttl_seconds"`
	AnalyzerTimeoutSeconds int               `mapstructure:"analyzer_timeout_seconds"`
	StaleAfterMinutes      int               `mapstructure:"stale_after_minutes"`
	ReapIntervalSeconds    int               `mapstructure:"reap_interval_seconds"`
	RequeueOnStart         bool              `mapstructure:"requeue_on_start"`
	Analyzers              map[string]string `mapstructure:"analyzers"` // 分析类型 -> 外部命令
}

func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c WorkerConfig) AnalyzerTimeout() time.Duration {
	return time.Duration(c.AnalyzerTimeoutSeconds) * time.Second
}

func (c WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

func (c WorkerConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

type StorageConfig struct {
	PayloadBackend string `mapstructure:"payload_backend"` // db, oss
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("queue.analysis_queue", "analytic_jobs")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("queue.pop_timeout_seconds", 5)
	v.SetDefault("worker.lock_ttl_seconds", 3600)
	v.SetDefault("worker.analyzer_timeout_seconds", 1800)
	v.SetDefault("worker.stale_after_minutes", 120)
	v.SetDefault("worker.reap_interval_seconds", 300)
	v.SetDefault("worker.requeue_on_start", true)
	v.SetDefault("storage.payload_backend", "db")
	v.SetDefault("oss.prefix", "analytic-jobs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 读取配置：.env → YAML → 环境变量覆盖
func Load(configPath string) (*Config, error) {
	// .env 可选，不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.Database == "" {
			return errors.New("database.host and database.database are required for mysql")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	switch c.Storage.PayloadBackend {
	case "db":
	case "oss":
		if c.OSS.Endpoint == "" || c.OSS.BucketName == "" {
			return errors.New("oss.endpoint and oss.bucket_name are required for the oss payload backend")
		}
	default:
		return fmt.Errorf("unsupported storage.payload_backend %q", c.Storage.PayloadBackend)
	}

	if c.Queue.AnalysisQueue == "" {
		return errors.New("queue.analysis_queue is required")
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 1
	}
	return nil
}
