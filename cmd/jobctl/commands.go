package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"github.com/qs3c/analytic_jobs/config"
	"github.com/qs3c/analytic_jobs/internal/database"
	"github.com/qs3c/analytic_jobs/internal/logger"
	"github.com/qs3c/analytic_jobs/internal/model/dto"
	"github.com/qs3c/analytic_jobs/internal/pkg/audit"
	"github.com/qs3c/analytic_jobs/internal/pkg/pubsub"
	"github.com/qs3c/analytic_jobs/internal/pkg/queue"
	"github.com/qs3c/analytic_jobs/internal/repository"
	"github.com/qs3c/analytic_jobs/internal/service"
)

// env 单次命令使用的依赖
type env struct {
	cfg  *config.Config
	db   *gorm.DB
	rdb  *redis.Client
	jobs *service.JobService
}

// openEnv 加载配置并连接数据库；withRedis 时尝试连接 Redis，失败只告警
func openEnv(cmd *cli.Command, withRedis bool) (*env, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format, cmd.Root().ErrWriter)

	db, err := database.Open(&cfg.Database, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	payloads, err := database.NewPayloadStore(cfg, db)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, db: db}

	var q *queue.Queue
	var publisher *pubsub.Publisher
	if withRedis {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			logger.WithComponent("jobctl").WithError(err).Warn("redis unavailable, jobs will not be enqueued")
		} else {
			e.rdb = rdb
			q = queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
			publisher = pubsub.NewPublisher(rdb, "")
		}
	}

	e.jobs = service.NewJobService(
		repository.NewJobRepository(db, payloads),
		repository.NewSearchRepository(db),
		q,
		publisher,
	)
	return e, nil
}

func (e *env) Close() {
	if e.rdb != nil {
		e.rdb.Close()
	}
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func withActor(ctx context.Context, cmd *cli.Command) context.Context {
	return audit.WithActor(ctx, cmd.String("actor"))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := database.Migrate(e.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, "migration completed")
	return nil
}

func submitAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	req := &dto.SubmitJobRequest{
		SearchID:               cmd.Int64("search"),
		Type:                   cmd.String("type"),
		Expressions:            cmd.StringSlice("expr"),
		ExpressionsOpposite:    cmd.StringSlice("opposite"),
		UseOnlyDomains:         cmd.Bool("domains-only"),
		UseOnlyDomainsOpposite: cmd.Bool("opposite-domains-only"),
	}
	if cmd.IsSet("context-size") {
		v := cmd.Int("context-size")
		req.ContextSize = &v
	}
	if cmd.IsSet("limit") {
		v := cmd.Int("limit")
		req.Limit = &v
	}

	resp, err := e.jobs.Submit(withActor(ctx, cmd), req)
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, resp)
}

func showAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	detail, err := e.jobs.Get(ctx, cmd.Int64("id"))
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, detail)
}

func listAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	items, err := e.jobs.ListBySearch(ctx, cmd.Int64("search"))
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, items)
}

func resultAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	w := cmd.Root().Writer
	if path := cmd.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := e.jobs.WriteResult(ctx, cmd.Int64("id"), w)
	if err != nil {
		return err
	}
	if cmd.String("out") != "" {
		fmt.Fprintf(cmd.Root().Writer, "wrote %d bytes to %s\n", n, cmd.String("out"))
	}
	return nil
}

func statsAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.jobs.Stats(ctx, cmd.Int64("search"))
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, stats)
}

func requeueAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.jobs.Requeue(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "requeued %d jobs\n", n)
	return nil
}

func watchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format, cmd.Root().ErrWriter)

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	jobID, searchID := cmd.Int64("id"), cmd.Int64("search")
	limit := cmd.Int("count")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := json.NewEncoder(cmd.Root().Writer)
	seen := 0
	err = pubsub.NewSubscriber(rdb, "").Subscribe(ctx, nil, func(msg *pubsub.StateMessage) {
		if jobID != 0 && msg.JobID != jobID {
			return
		}
		if searchID != 0 && msg.SearchID != searchID {
			return
		}
		if err := enc.Encode(msg); err != nil {
			logger.WithComponent("jobctl").WithError(err).Warn("failed to print event")
		}

		seen++
		if limit > 0 && seen >= limit {
			cancel()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func failAction(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	job, err := e.jobs.Fail(withActor(ctx, cmd), cmd.Int64("id"), cmd.String("reason"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "job %d is now %s\n", job.ID, job.State)
	return nil
}
