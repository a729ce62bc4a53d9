package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jdziat/doc-pipeline/pkg/admin"
	"github.com/jdziat/doc-pipeline/pkg/config"
	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/orchestrator"
	"github.com/jdziat/doc-pipeline/pkg/pool"
	"github.com/jdziat/doc-pipeline/pkg/recovery"
	"github.com/jdziat/doc-pipeline/pkg/schedule"
	"github.com/jdziat/doc-pipeline/pkg/storage"
	"github.com/jdziat/doc-pipeline/pkg/worker"
)

func main() {
	app := &cli.App{
		Name:  "doc-pipeline",
		Usage: "Checkpointed document-processing pipeline engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run recovery, worker and admin server",
				Action: serveCommand,
			},
			{
				Name:      "enqueue",
				Usage:     "Enqueue a document for processing",
				ArgsUsage: "<document-ref>",
				Action:    enqueueCommand,
			},
			{
				Name:      "status",
				Usage:     "Show job status and progress",
				ArgsUsage: "<job-id>",
				Action:    statusCommand,
			},
			{
				Name:      "resume",
				Usage:     "Resume an interrupted job",
				ArgsUsage: "<job-id>",
				Action:    resumeCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

func openStorage(c *cli.Context) (*config.Config, *storage.GormStorage, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	store, err := storage.NewGormStorageWithConnPool(db)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(c.Context); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, store, nil
}

func serveCommand(c *cli.Context) error {
	cfg, store, err := openStorage(c)
	if err != nil {
		return err
	}
	logger := slog.Default()

	tracker := memtrack.New(
		memtrack.WithWarnThreshold(uint64(cfg.Memory.WarnMB)*1024*1024),
		memtrack.WithHistorySize(cfg.Memory.HistorySize),
		memtrack.WithLogger(logger),
	)

	pools := pool.NewSet()
	for name, maxSize := range cfg.Pools {
		n := name
		pools.Add(pool.New(n, maxSize, placeholderFactory(n),
			pool.WithMemoryObserver(tracker),
			pool.WithLogger(logger),
		))
	}

	orch := orchestrator.New(store, store,
		orchestrator.WithPools(pools),
		orchestrator.WithMemoryTracker(tracker),
		orchestrator.WithLogger(logger),
	)
	registerExecutors(orch)

	// One idempotent reconciliation pass before any job runs.
	svc := recovery.NewService(store, store, recovery.WithLogger(logger))
	if _, err := svc.Reconcile(c.Context); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerOpts := []worker.WorkerOption{
		worker.Concurrency(cfg.Worker.Concurrency),
		worker.WithTracker(tracker),
	}
	if cfg.Worker.PollInterval > 0 {
		workerOpts = append(workerOpts, worker.PollInterval(cfg.Worker.PollInterval.Std()))
	}
	if cfg.Worker.StaleAfter > 0 {
		workerOpts = append(workerOpts, worker.StaleAfter(cfg.Worker.StaleAfter.Std()))
	}
	if cfg.Worker.SweepCron != "" {
		sweep, err := schedule.ParseCron(cfg.Worker.SweepCron)
		if err != nil {
			return fmt.Errorf("sweep_cron: %w", err)
		}
		workerOpts = append(workerOpts, worker.SweepSchedule(sweep))
	}
	w := worker.NewWorker(orch, store, workerOpts...)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: admin.NewHandler(store, store, tracker, pools, logger),
	}
	go func() {
		logger.Info("admin server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server stopped", "error", err)
		}
	}()

	err = w.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = pools.Close(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerExecutors binds stage names to their implementations. The concrete
// document logic (parsing, vision, embedding calls) lives behind the
// StageExecutor contract; these placeholders keep the engine runnable until
// the product executors are linked in.
func registerExecutors(orch *orchestrator.Orchestrator) {
	for _, name := range []string{
		core.StageDiscovery,
		core.StageChunk,
		core.StageImageExtract,
		core.StageEmbed,
		core.StageEntityCreate,
	} {
		stage := name
		orch.RegisterExecutor(stage, core.ExecutorFunc(
			func(ctx context.Context, jc *core.JobContext, prior core.OutputRefs) (core.OutputRefs, error) {
				return nil, core.Fatal(fmt.Errorf("no executor linked for stage %s", stage))
			}))
	}
}

func placeholderFactory(name string) pool.Factory {
	return func(ctx context.Context) (any, error) {
		return struct{ name string }{name: name}, nil
	}
}

func enqueueCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: doc-pipeline enqueue <document-ref>", 2)
	}
	_, store, err := openStorage(c)
	if err != nil {
		return err
	}

	job := &core.Job{DocumentRef: c.Args().First()}
	if err := store.CreateJob(c.Context, job); err != nil {
		return err
	}
	fmt.Println(job.ID)
	return nil
}

func statusCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: doc-pipeline status <job-id>", 2)
	}
	_, store, err := openStorage(c)
	if err != nil {
		return err
	}

	job, err := store.GetJob(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Printf("id:        %s\n", job.ID)
	fmt.Printf("document:  %s\n", job.DocumentRef)
	fmt.Printf("status:    %s\n", job.Status)
	fmt.Printf("progress:  %.0f%% (%d/%d stages)\n", job.Progress()*100, job.CurrentStage, len(job.Stages))
	if job.LastCheckpointStage != "" {
		fmt.Printf("last checkpoint: %s\n", job.LastCheckpointStage)
	}
	if job.LastError != "" {
		fmt.Printf("last error: %s\n", job.LastError)
	}
	return nil
}

func resumeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: doc-pipeline resume <job-id>", 2)
	}
	_, store, err := openStorage(c)
	if err != nil {
		return err
	}

	// Resume from the CLI only flips the job back to runnable; the serving
	// worker picks it up on its next poll.
	jobID := c.Args().First()
	job, err := store.GetJob(c.Context, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		fmt.Printf("job %s already %s\n", jobID, job.Status)
		return nil
	}
	if err := store.MarkInterrupted(c.Context, jobID, "manual resume requested"); err != nil {
		return err
	}
	fmt.Printf("job %s queued for resume\n", jobID)
	return nil
}
