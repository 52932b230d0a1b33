package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return l
}

// ParseLevel 解析日志级别，未知值回退为 info
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Initialize 按配置初始化全局 logger
func Initialize(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)
	l.SetLevel(ParseLevel(level))

	if strings.ToLower(format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	mu.Lock()
	log = l
	mu.Unlock()

	return l
}

// Get 返回全局 logger
func Get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// WithComponent creates a logger scoped to a component.
func WithComponent(component string) *logrus.Entry {
	return Get().WithField("component", component)
}

// WithJob creates a logger with job context
func WithJob(jobID int64, jobType string) *logrus.Entry {
	return Get().WithFields(logrus.Fields{
		"job_id":    jobID,
		"job_type":  jobType,
		"component": "worker",
	})
}

// WithWorker creates a logger for one pool goroutine
func WithWorker(workerID int) *logrus.Entry {
	return Get().WithFields(logrus.Fields{
		"worker_id": workerID,
		"component": "pool",
	})
}

// GormLevel 将日志级别映射到 gorm logger
func GormLevel(level string) gormlogger.LogLevel {
	switch ParseLevel(level) {
	case logrus.DebugLevel:
		return gormlogger.Info
	case logrus.InfoLevel, logrus.WarnLevel:
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

// Gorm returns a gorm logger writing through logrus.
func Gorm(level string) gormlogger.Interface {
	return gormlogger.New(
		Get().WithField("component", "gorm"),
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  GormLevel(level),
			IgnoreRecordNotFoundError: true,
		},
	)
}
