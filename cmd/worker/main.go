package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/analytic_jobs/config"
	"github.com/qs3c/analytic_jobs/internal/database"
	"github.com/qs3c/analytic_jobs/internal/logger"
	"github.com/qs3c/analytic_jobs/internal/pkg/cron"
	"github.com/qs3c/analytic_jobs/internal/pkg/lock"
	"github.com/qs3c/analytic_jobs/internal/pkg/pubsub"
	"github.com/qs3c/analytic_jobs/internal/pkg/queue"
	"github.com/qs3c/analytic_jobs/internal/repository"
	"github.com/qs3c/analytic_jobs/internal/service"
	"github.com/qs3c/analytic_jobs/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	log := logger.WithComponent("worker")

	// 初始化数据库
	db, err := database.Open(&cfg.Database, cfg.Log.Level)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	log.WithField("driver", cfg.Database.Driver).Info("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect redis")
	}
	defer rdb.Close()
	log.WithField("addr", cfg.Redis.Addr()).Info("redis connected")

	payloads, err := database.NewPayloadStore(cfg, db)
	if err != nil {
		log.WithError(err).Fatal("failed to init payload store")
	}
	log.WithField("backend", cfg.Storage.PayloadBackend).Info("payload store initialized")

	analyzers, err := worker.NewCommandRegistry(cfg.Worker.Analyzers, cfg.Worker.AnalyzerTimeout())
	if err != nil {
		log.WithError(err).Fatal("invalid analyzer configuration")
	}
	if len(analyzers) == 0 {
		log.Warn("no analyzers configured, every job will fail")
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb, "")

	// 初始化 Repository 和 Service
	jobRepo := repository.NewJobRepository(db, payloads)
	searchRepo := repository.NewSearchRepository(db)
	jobService := service.NewJobService(jobRepo, searchRepo, jobQueue, publisher)

	hostname, _ := os.Hostname()
	actor := fmt.Sprintf("worker@%s", hostname)
	processor := worker.NewProcessor(jobService, lock.NewLocker(rdb, cfg.Worker.LockTTL()), analyzers, actor)

	// 创建 context 用于优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Worker.RequeueOnStart {
		n, err := jobService.Requeue(ctx, 1000)
		if err != nil {
			log.WithError(err).Warn("failed to requeue waiting jobs")
		} else if n > 0 {
			log.WithField("count", n).Info("requeued waiting jobs")
		}
	}

	reaper := cron.NewService(jobService, jobRepo, cfg.Worker.StaleAfter(), cfg.Worker.ReapInterval())
	reaper.Start()
	defer reaper.Stop()

	log.WithField("max_workers", cfg.Queue.MaxWorkers).Info("worker started")

	pool := worker.NewPool(jobQueue, processor, cfg.Queue.MaxWorkers, cfg.Queue.PopTimeout())
	pool.Run(ctx)

	log.Info("worker shutdown complete")
}
